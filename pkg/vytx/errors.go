package vytx

import "errors"

var (
	ErrNotActive   = errors.New("vytx: transaction is not active")
	ErrNotPrepared = errors.New("vytx: transaction is not prepared")
)
