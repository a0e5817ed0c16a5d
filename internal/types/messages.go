package types

// BisectJob is received from RabbitMQ by bisectd.
type BisectJob struct {
	JobID                  string       `json:"job_id" yaml:"job_id"`
	Start                  string       `json:"start,omitempty" yaml:"start,omitempty"` // empty: earliest known working revision
	End                    string       `json:"end,omitempty" yaml:"end,omitempty"`     // empty: tip of the default branch
	Flags                  []string     `json:"flags" yaml:"flags"`
	Build                  BuildOptions `json:"build" yaml:"build"`
	Testcase               string       `json:"testcase" yaml:"testcase"`
	CompilationFailedLabel string       `json:"compilation_failed_label,omitempty" yaml:"compilation_failed_label,omitempty"`
	VerifyEndpoints        bool         `json:"verify_endpoints,omitempty" yaml:"verify_endpoints,omitempty"`
	Interesting            []string     `json:"interesting,omitempty" yaml:"interesting,omitempty"`
}

// JobResult is published when a job terminates.
type JobResult struct {
	JobID    string   `json:"job_id" yaml:"job_id"`
	Verdict  string   `json:"verdict" yaml:"verdict"`
	Culprit  string   `json:"culprit,omitempty" yaml:"culprit,omitempty"`
	Suspects []string `json:"suspects,omitempty" yaml:"suspects,omitempty"`
	Reason   string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error    string   `json:"error,omitempty" yaml:"error,omitempty"`
}
