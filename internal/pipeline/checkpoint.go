package pipeline

// Checkpoint drives the conditional routing between pipeline stages.
// It is the only run-state field the engine inspects when deciding
// which stage runs next.
type Checkpoint int

const (
	// CheckpointContinue routes to the next stage in sequence.
	CheckpointContinue Checkpoint = iota
	// CheckpointHumanMode terminates the run with no reply; a human
	// agent owns the conversation.
	CheckpointHumanMode
	// CheckpointCacheHit skips retrieval and generation; the reply came
	// from the semantic cache.
	CheckpointCacheHit
	// CheckpointDone marks a completed run. No stage runs after it.
	CheckpointDone
)

func (c Checkpoint) String() string {
	switch c {
	case CheckpointContinue:
		return "continue"
	case CheckpointHumanMode:
		return "human_mode"
	case CheckpointCacheHit:
		return "cache_hit"
	case CheckpointDone:
		return "done"
	default:
		return "unknown"
	}
}
