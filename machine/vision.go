package machine

import (
	"context"
	"log"

	"github.com/pkg/errors"
)

const maxVisionError = 100

func (m *Machine) describe(ctx context.Context, query string) Result {
	if m.frames == nil {
		return failure("Camera not available.")
	}
	frame, ok := m.frames.Frame(ctx)
	if !ok || len(frame) == 0 {
		return failure("Camera not available.")
	}
	if m.vision == nil {
		return failure("Vision analysis unavailable.")
	}

	answer, err := m.describeSafe(ctx, frame, query)
	if err != nil {
		log.Printf("ERROR: vision: %+v", err)
		msg := []rune(err.Error())
		if len(msg) > maxVisionError {
			msg = msg[:maxVisionError]
		}
		return Result{Status: StatusError, Message: "Vision analysis unavailable. Error: " + string(msg) + "...", Image: frame}
	}
	return Result{Status: StatusSuccess, Message: answer, Image: frame}
}

// describeSafe keeps a misbehaving vision client from taking down the
// request.
func (m *Machine) describeSafe(ctx context.Context, frame []byte, query string) (answer string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return m.vision.Describe(ctx, frame, "Analyze this image: "+query)
}
