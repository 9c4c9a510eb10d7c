package store

import "errors"

var ErrOpenPayment = errors.New("order already has an open payment")
