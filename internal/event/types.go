package event

// ConfigChangeData is the data for config.* and secret.* events.
// Secret events never carry the value.
type ConfigChangeData struct {
	Key       string `json:"key"`
	Namespace string `json:"namespace"`
}

// SecretStorageData is the data for secret.storage_degraded events.
type SecretStorageData struct {
	Backend string `json:"backend"`
	Reason  string `json:"reason"`
}

// ExtensionData is the data for extension.* events.
type ExtensionData struct {
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Missing []string `json:"missing,omitempty"`
}

// PermissionData is the data for permission.* events.
type PermissionData struct {
	Extension string `json:"extension"`
	Tool      string `json:"tool,omitempty"`
	Level     string `json:"level,omitempty"`
}

// ExperimentData is the data for experiment.toggled events.
type ExperimentData struct {
	Flag    string `json:"flag"`
	Enabled bool   `json:"enabled"`
}
