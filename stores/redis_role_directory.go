package stores

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisRoleDirectory keeps principal->roles membership in Redis sets
// (key: ubac:roles:{principal}).
type RedisRoleDirectory struct {
	client *redis.Client
	keyFmt string
}

func NewRedisRoleDirectory(client *redis.Client) *RedisRoleDirectory {
	return &RedisRoleDirectory{client: client, keyFmt: "ubac:roles:%s"}
}

func (r *RedisRoleDirectory) key(principal string) string {
	return fmt.Sprintf(r.keyFmt, principal)
}

func (r *RedisRoleDirectory) AssignRole(ctx context.Context, principal, role string) error {
	return r.client.SAdd(ctx, r.key(principal), role).Err()
}

func (r *RedisRoleDirectory) UnassignRole(ctx context.Context, principal, role string) error {
	return r.client.SRem(ctx, r.key(principal), role).Err()
}

func (r *RedisRoleDirectory) ResolveRoles(ctx context.Context, principal string) ([]string, error) {
	roles, err := r.client.SMembers(ctx, r.key(principal)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(roles)
	return roles, nil
}
