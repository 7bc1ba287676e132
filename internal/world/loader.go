package world

// Loader is an optional external environment manager consulted before an
// environment is created from disk. It is chosen once at startup; NoLoader is
// used when no manager is configured.
type Loader interface {
	// Name identifies the loader in logs.
	Name() string

	// Load returns the environment for name, or nil when the loader does not
	// manage it and the host should create it from dir itself.
	Load(name, dir string) (*Environment, error)
}

// NoLoader is the null Loader: it never manages any environment.
type NoLoader struct{}

func (NoLoader) Name() string { return "none" }

func (NoLoader) Load(name, dir string) (*Environment, error) { return nil, nil }
