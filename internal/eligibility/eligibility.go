// Package eligibility decides which rides a user may see and join, by
// exact match of normalized community names.
package eligibility

import (
	"github.com/example/campus-rides/internal/community"
	"github.com/example/campus-rides/internal/models"
)

// UserCommunity is the home community of u: the resolved short name when
// the detector supplied one, otherwise the college field.
func UserCommunity(u *models.User) (community.Name, bool) {
	if info, ok := u.University.Info.(models.ResolvedUniversity); ok {
		if n, ok := community.Normalize(info.ShortName); ok {
			return n, true
		}
	}
	return community.Normalize(u.College)
}

// Options lists the communities u can post a ride to, home first. Resolved
// users get their nearby universities; everybody else gets the legacy
// college table.
func Options(u *models.User) []community.Name {
	var out []community.Name
	if home, ok := UserCommunity(u); ok {
		out = community.AppendUnique(out, home)
	}
	if info, ok := u.University.Info.(models.ResolvedUniversity); ok {
		for _, nb := range info.Nearby {
			if n, ok := community.Normalize(nb.ShortName); ok {
				out = community.AppendUnique(out, n)
			}
		}
		return out
	}
	for _, n := range community.Legacy(u.College) {
		out = community.AppendUnique(out, n)
	}
	return out
}

// Eligible reports whether u's community is listed on r, ignoring status.
func Eligible(r *models.Ride, u *models.User) bool {
	if community.Contains(r.Communities, community.OpenToAll) {
		return true
	}
	home, ok := UserCommunity(u)
	if !ok {
		return false
	}
	return community.Contains(r.Communities, home)
}

// Visible reports whether u may discover r in listings.
func Visible(r *models.Ride, u *models.User) bool {
	return r.Status == models.RideActive && Eligible(r, u)
}

// Filter keeps the rides visible to u, preserving order.
func Filter(rides []*models.Ride, u *models.User) []*models.Ride {
	out := make([]*models.Ride, 0, len(rides))
	for _, r := range rides {
		if Visible(r, u) {
			out = append(out, r)
		}
	}
	return out
}
