package sync

// Stage identifies a step of the sync pipeline.
type Stage string

// Pipeline stages, in execution order.
const (
	StageIdle          Stage = "idle"
	StageBootstrapping Stage = "bootstrapping"
	StageDetecting     Stage = "detecting"
	StageUploading     Stage = "uploading"
	StageBuildingTree  Stage = "building_tree"
	StageCommitting    Stage = "committing"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// Progress percentages reported at stage boundaries. Uploading scales from
// PercentDetected to PercentUploaded with completed/total blobs.
const (
	PercentBootstrapping = 5
	PercentDetected      = 10
	PercentUploaded      = 60
	PercentTreeBuilt     = 75
	PercentCommitted     = 90
	PercentDone          = 100
)

// Event is one ordered progress notification.
type Event struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
}

// Sink receives ordered progress events. Implementations are trusted not
// to block; errors and panics from a sink never abort the sync.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Publish calls the function.
func (f SinkFunc) Publish(e Event) { f(e) }

// notify delivers an event, swallowing sink panics.
func notify(sink Sink, e Event) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink.Publish(e)
}
