package models

// OwnerSettings is the resource owner's get-key configuration.
type OwnerSettings struct {
	GetKeyEnabled    bool
	CheckpointLinks  []string
	CheckpointCount  int
	TimerSeconds     int
	ChallengeEnabled bool
	KeyDurationHours int
	CooldownHours    int
	MaxKeysPerIP     int
}

// Resource is the catalogued script a key unlocks, joined with the owner
// configuration the get-key flow needs.
type Resource struct {
	ID        string
	Slug      string
	OwnerID   string
	Published bool
	Deleted   bool
	Settings  OwnerSettings
}

// Eligible reports whether the resource can be unlocked publicly.
func (r *Resource) Eligible() bool {
	return r.Published && !r.Deleted && r.Settings.GetKeyEnabled
}
