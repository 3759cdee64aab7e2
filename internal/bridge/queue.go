package bridge

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

type ActionKind string

const (
	ActionMoveForward  ActionKind = "move_forward"
	ActionMoveBackward ActionKind = "move_backward"
	ActionStrafeLeft   ActionKind = "strafe_left"
	ActionStrafeRight  ActionKind = "strafe_right"
	ActionStop         ActionKind = "stop"
	ActionLookAt       ActionKind = "look_at"
	ActionSetLook      ActionKind = "set_look"
	ActionAttack       ActionKind = "attack"
	ActionJump         ActionKind = "jump"
	ActionSprint       ActionKind = "sprint"
	ActionSneak        ActionKind = "sneak"
	ActionEat          ActionKind = "eat"
	ActionChat         ActionKind = "chat"
)

// ActionKinds lists every kind in a stable order.
var ActionKinds = []ActionKind{
	ActionMoveForward, ActionMoveBackward, ActionStrafeLeft, ActionStrafeRight, ActionStop,
	ActionLookAt, ActionSetLook, ActionAttack, ActionJump, ActionSprint, ActionSneak,
	ActionEat, ActionChat,
}

// Action is one queued intent. Which fields matter depends on Kind.
type Action struct {
	Kind ActionKind `json:"kind"`

	// LookAt target.
	Target mgl64.Vec3 `json:"target"`
	// SetLook orientation in degrees.
	Yaw   float64 `json:"yaw,omitempty"`
	Pitch float64 `json:"pitch,omitempty"`
	// Sprint / Sneak toggle.
	On bool `json:"on,omitempty"`
	// Chat text.
	Text string `json:"text,omitempty"`
	// Attack a specific entity instead of whatever is in front.
	EntityID *int64 `json:"entity_id,omitempty"`
}

func MoveForward() Action  { return Action{Kind: ActionMoveForward} }
func MoveBackward() Action { return Action{Kind: ActionMoveBackward} }
func StrafeLeft() Action   { return Action{Kind: ActionStrafeLeft} }
func StrafeRight() Action  { return Action{Kind: ActionStrafeRight} }
func Stop() Action         { return Action{Kind: ActionStop} }
func Attack() Action       { return Action{Kind: ActionAttack} }
func Jump() Action         { return Action{Kind: ActionJump} }
func Eat() Action          { return Action{Kind: ActionEat} }

func LookAt(x, y, z float64) Action {
	return Action{Kind: ActionLookAt, Target: mgl64.Vec3{x, y, z}}
}

func SetLook(yaw, pitch float64) Action {
	return Action{Kind: ActionSetLook, Yaw: yaw, Pitch: pitch}
}

func AttackEntity(id int64) Action {
	return Action{Kind: ActionAttack, EntityID: &id}
}

func Sprint(on bool) Action { return Action{Kind: ActionSprint, On: on} }
func Sneak(on bool) Action  { return Action{Kind: ActionSneak, On: on} }

func Chat(text string) Action { return Action{Kind: ActionChat, Text: text} }

// Queue buffers actions between ticks. It never blocks on the network.
type Queue struct {
	mu    sync.Mutex
	items []Action
}

func (q *Queue) Push(a Action) {
	q.mu.Lock()
	q.items = append(q.items, a)
	q.mu.Unlock()
}

// Drain removes and returns everything queued, oldest first.
func (q *Queue) Drain() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
