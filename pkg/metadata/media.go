package metadata

import (
	"context"
	"io"
)

// Audio is the registered strategy for audio payloads. It reports nothing
// yet; a real probe can replace it through Registry.Register.
type Audio struct{}

func (Audio) Extract(context.Context, io.ReadSeeker, string) (Metadata, error) { return nil, nil }

// Video is the registered strategy for video payloads. Like Audio it is a
// placeholder.
type Video struct{}

func (Video) Extract(context.Context, io.ReadSeeker, string) (Metadata, error) { return nil, nil }
