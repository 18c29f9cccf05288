package radar

import "errors"

// Protocol errors returned by decoders. They are advisory: the decoder has
// already discarded its accumulator and resumes classification on the next byte.
var (
	// ErrDesync marks a message that stopped matching its grammar, such as a
	// broken frame marker or an 'A' that is not followed by "T+". It is
	// expected on line noise and usually not logged.
	ErrDesync = errors.New("radar stream desync")

	ErrBufferOverflow     = errors.New("radar receive buffer full without a complete message")
	ErrFrameLength        = errors.New("radar frame length too long")
	ErrFrameOverrun       = errors.New("radar frame longer than its declared length")
	ErrInvalidTLV         = errors.New("invalid TLV tag")
	ErrBlockLength        = errors.New("invalid TLV block length")
	ErrATTooLong          = errors.New("AT response too long")
	ErrChecksum           = errors.New("invalid checksum")
	ErrUnsupportedMessage = errors.New("unsupported radar message")
)
