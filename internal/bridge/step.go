package bridge

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"
)

// StepInput is a gym-style control frame: held keys plus one-shot actions.
type StepInput struct {
	Forward bool
	Back    bool
	Left    bool
	Right   bool

	Jump   bool
	Sprint bool
	Sneak  bool
	Attack bool

	// LookAt wins over Yaw/Pitch when both are set.
	LookAt *mgl64.Vec3
	Yaw    *float64
	Pitch  *float64
}

// Actions expands the frame into queue order: movement, orientation,
// toggles, jump, then attack so the swing uses the new facing.
func (in StepInput) Actions(current GameState) []Action {
	acts := []Action{Stop()}
	switch {
	case in.Forward && !in.Back:
		acts = append(acts, MoveForward())
	case in.Back && !in.Forward:
		acts = append(acts, MoveBackward())
	}
	switch {
	case in.Left && !in.Right:
		acts = append(acts, StrafeLeft())
	case in.Right && !in.Left:
		acts = append(acts, StrafeRight())
	}

	switch {
	case in.LookAt != nil:
		acts = append(acts, LookAt(in.LookAt.X(), in.LookAt.Y(), in.LookAt.Z()))
	case in.Yaw != nil || in.Pitch != nil:
		yaw, pitch := current.Yaw, current.Pitch
		if in.Yaw != nil {
			yaw = *in.Yaw
		}
		if in.Pitch != nil {
			pitch = *in.Pitch
		}
		acts = append(acts, SetLook(yaw, pitch))
	}

	acts = append(acts, Sprint(in.Sprint), Sneak(in.Sneak))
	if in.Jump {
		acts = append(acts, Jump())
	}
	if in.Attack {
		acts = append(acts, Attack())
	}
	return acts
}

// Step enqueues one control frame and ticks.
func (s *Session) Step(ctx context.Context, in StepInput) (GameState, error) {
	s.mu.Lock()
	cur := GameState{}
	if s.snap != nil {
		cur = *s.snap
	}
	s.mu.Unlock()

	for _, a := range in.Actions(cur) {
		if err := s.Enqueue(a); err != nil {
			return GameState{}, err
		}
	}
	return s.Tick(ctx)
}
