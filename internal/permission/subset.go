package permission

import "errors"

// ErrNotSubset is returned by CheckSubset when a child permission set is not a subset of the creating access's
// effective permissions (§4.3.1).
var ErrNotSubset = errors.New("requested permissions are not a subset of the creating access's permissions")

// ErrManageNotHeld is returned when a child atom requests "manage" but the creator does not itself have "manage" on
// that scope — manage may never be delegated past what the creator actually holds, even if some broader subset check
// would otherwise pass.
var ErrManageNotHeld = errors.New("manage cannot be delegated unless the creating access itself holds manage on that scope")

// ErrFeatureNotInherited is returned when a child access tries to set a feature atom to something other than what
// the creator already carries, for the one specified feature (selfRevoke).
var ErrFeatureNotInherited = errors.New("selfRevoke=forbidden is inherited and cannot be overridden to a different setting")

// CheckSubset validates §4.3.1: for every atom of childPerms, the effective level the *creator* (parentEval) resolves
// to on that atom's scope must be >= the declared level, manage must not be delegated unless the creator itself has
// manage there, and a child selfRevoke atom may not differ from a parent's selfRevoke=forbidden (an attempt to set a
// different setting fails). CheckSubset only validates; access.Manager.Create copies the parent's forbidden atom onto
// a child that omits it.
func CheckSubset(parentEval *Evaluator, parentPerms []Permission, childPerms []Permission) error {
	parentSelfRevokeForbidden := hasSelfRevokeForbidden(parentPerms)

	for _, atom := range childPerms {
		switch atom.Kind {
		case KindStream:
			parentLevel := parentEval.EffectiveLevel(atom.StreamID)
			if atom.Level > parentLevel {
				return ErrNotSubset
			}
			if atom.Level == LevelManage && parentLevel != LevelManage {
				return ErrManageNotHeld
			}
		case KindFeature:
			if atom.Feature == FeatureSelfRevoke {
				if parentSelfRevokeForbidden && atom.Setting != SettingForbidden {
					return ErrFeatureNotInherited
				}
			}
		}
	}
	return nil
}

func hasSelfRevokeForbidden(perms []Permission) bool {
	for _, p := range perms {
		if p.Kind == KindFeature && p.Feature == FeatureSelfRevoke && p.Setting == SettingForbidden {
			return true
		}
	}
	return false
}
