package main

import (
	"fmt"
	"time"

	"github.com/maxpert/termlog/logbuffer"
)

type Config struct {
	// Log geometry
	LogDir     string
	TermLength int
	MTU        int

	// Run options
	Channel       string
	StreamID      int
	MessageLength int
	Messages      int
	Duration      time.Duration
	Threads       int
	UseClaim      bool

	// Receiver
	ReceiverWindow int
	DrainInterval  time.Duration

	// Inspect options
	Pattern string // Glob over manifest file names
}

func (c *Config) Validate() error {
	if err := logbuffer.CheckTermLength(int32(c.TermLength)); err != nil {
		return err
	}

	if err := logbuffer.CheckMTULength(int32(c.MTU), int32(c.TermLength)); err != nil {
		return err
	}

	if c.Channel == "" {
		return fmt.Errorf("channel cannot be empty")
	}

	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}

	maxLength := int(logbuffer.ComputeMaxMessageLength(int32(c.TermLength)))
	if c.MessageLength < 0 || c.MessageLength > maxLength {
		return fmt.Errorf("message length must be in [0, %d]", maxLength)
	}

	if c.UseClaim && c.MessageLength > c.MTU-int(logbuffer.HeaderLength) {
		return fmt.Errorf("claimed messages must fit in one frame of %d bytes", c.MTU-int(logbuffer.HeaderLength))
	}

	if c.Messages < 1 && c.Duration <= 0 {
		return fmt.Errorf("either messages or duration must be set")
	}

	if c.ReceiverWindow < int(logbuffer.FrameAlignment) {
		return fmt.Errorf("receiver window must be at least %d", logbuffer.FrameAlignment)
	}

	return nil
}
