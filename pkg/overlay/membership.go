package overlay

// experienceIndex owns the experience -> member-set reverse index. The forward
// direction lives on the PresenceRecord (ExperienceID); both are mutated only
// together, under the Hub's lock, so an identity is a member of an experience
// exactly when its record names that experience.
type experienceIndex struct {
	members  map[string]map[string]struct{} // experienceID -> set of identities
	presence *presenceStore
}

func newExperienceIndex(presence *presenceStore) *experienceIndex {
	return &experienceIndex{
		members:  make(map[string]map[string]struct{}),
		presence: presence,
	}
}

// join makes identity a member of exactly experienceID. Switching experiences
// is leave-then-join in one step; the identity is never in two experiences and
// never orphaned mid-transition.
func (x *experienceIndex) join(identity, experienceID string) error {
	rec, ok := x.presence.get(identity)
	if !ok {
		return ErrNotConnected
	}
	if rec.ExperienceID == experienceID {
		return nil
	}
	if rec.ExperienceID != "" {
		x.removeMember(rec.ExperienceID, identity)
	}
	set, ok := x.members[experienceID]
	if !ok {
		set = make(map[string]struct{})
		x.members[experienceID] = set
	}
	set[identity] = struct{}{}
	x.presence.setExperience(identity, experienceID)
	return nil
}

// leave is a no-op when the identity is not in any experience.
func (x *experienceIndex) leave(identity string) {
	rec, ok := x.presence.get(identity)
	if !ok || rec.ExperienceID == "" {
		return
	}
	x.removeMember(rec.ExperienceID, identity)
	x.presence.setExperience(identity, "")
}

func (x *experienceIndex) removeMember(experienceID, identity string) {
	set, ok := x.members[experienceID]
	if !ok {
		return
	}
	delete(set, identity)
	if len(set) == 0 {
		delete(x.members, experienceID)
	}
}

func (x *experienceIndex) membersOf(experienceID string) []string {
	set := x.members[experienceID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func (x *experienceIndex) experienceOf(identity string) (string, bool) {
	rec, ok := x.presence.get(identity)
	if !ok || rec.ExperienceID == "" {
		return "", false
	}
	return rec.ExperienceID, true
}

// allExperiences returns every experience with a non-empty member set, paired
// with its member count.
func (x *experienceIndex) allExperiences() map[string]int {
	all := make(map[string]int, len(x.members))
	for id, set := range x.members {
		all[id] = len(set)
	}
	return all
}
