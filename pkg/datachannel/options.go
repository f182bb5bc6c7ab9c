package datachannel

import (
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

type Option = func(*Channel) error

func WithDataChannelInit(init *webrtc.DataChannelInit) Option {
	return func(channel *Channel) error {
		channel.init = init
		return nil
	}
}

func WithLogger(log logging.LeveledLogger) Option {
	return func(channel *Channel) error {
		channel.log = log
		return nil
	}
}
