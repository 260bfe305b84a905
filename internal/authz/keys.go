package authz

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Cache tags shared with the invalidation manager.
const (
	TagResolution = "authz:res"
)

// TagUser addresses every cached entry derived from one user's assignments.
func TagUser(userID int64) string {
	return "authz:user:" + strconv.FormatInt(userID, 10)
}

// TagRole addresses every cached resolution that consulted the role.
func TagRole(roleID string) string {
	return "authz:role:" + roleID
}

// KeyHash produces a short stable digest for composite cache keys, keeping
// arbitrary permission keys out of Redis key space.
func KeyHash(value string) string {
	sum := blake2b.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}

// ScopeHash digests an optional team scope.
func ScopeHash(teamScope *int64) string {
	if teamScope == nil {
		return "global"
	}
	return strconv.FormatInt(*teamScope, 10)
}

// resolutionKey builds the cache key for one resolution result. The permission
// key hash sits in a fixed segment so PermissionDefinitionChanged can evict by
// glob pattern without enumerating users or scopes.
func resolutionKey(userID int64, key string, teamScope *int64, required Type) string {
	return "res:" + strconv.FormatInt(userID, 10) + ":" + KeyHash(key) + ":" + ScopeHash(teamScope) + ":" + strconv.Itoa(int(required))
}

// ResolutionPattern matches every cached resolution for a permission key.
func ResolutionPattern(key string) string {
	return "res:*:" + KeyHash(key) + ":*"
}

func accessibleTeamsKey(teamRoleID int64) string {
	return "acc:" + strconv.FormatInt(teamRoleID, 10)
}

func superAdminKey(userID int64) string {
	return "sa:" + strconv.FormatInt(userID, 10)
}

func definedKey(permissionKey string) string {
	return "def:" + KeyHash(permissionKey)
}
