package transport

import (
	"context"
	"errors"
)

// ErrContentTooLong marks a message body the provider will never accept;
// retrying cannot help.
var ErrContentTooLong = errors.New("message content too long")

// Transport delivers a single message to a destination address. Send blocks
// until the provider accepts or rejects the message and returns the
// provider's id for the delivered message.
type Transport interface {
	Send(ctx context.Context, phoneNumber, body string) (remoteMessageID string, err error)
}
