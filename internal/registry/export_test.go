package registry

// Test-only accessors for the external registry_test package.

func (r *Registry) PIDPath(id string) string  { return r.pidPath(id) }
func (r *Registry) LockPath(id string) string { return r.lockPath(id) }
