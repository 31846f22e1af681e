package ir

const (
	// TraceFormat is the version of the canonical trace encoding.
	TraceFormat = "1"

	// EngineVersion is recorded with every stored run.
	EngineVersion = "0.1.0"
)
