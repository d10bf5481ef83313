package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		name    string
		reply   []interface{}
		want    Outcome
		wantErr bool
	}{
		{
			name:  "applied success",
			reply: []interface{}{int64(1), "SUCCESS", int64(90), int64(10), int64(100)},
			want:  Outcome{Applied: true, Code: CodeSuccess, Available: 90, Reserved: 10, Total: 100},
		},
		{
			name:  "declined with missing resource sentinels",
			reply: []interface{}{int64(0), "INSUFFICIENT_STOCK", int64(-1), int64(-1), int64(-1)},
			want:  Outcome{Code: CodeInsufficientStock, Available: -1, Reserved: -1, Total: -1},
		},
		{
			name:    "short reply",
			reply:   []interface{}{int64(1), "SUCCESS"},
			wantErr: true,
		},
		{
			name:    "wrong counter type",
			reply:   []interface{}{int64(1), "SUCCESS", "90", int64(10), int64(100)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOutcome(tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndexMemberRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   string
		key  string
		qty  int64
	}{
		{"plain", "resv-42", "sale:widget", 7},
		{"pipes in reservation id", "order|1234", "sale:widget", 3},
		{"pipes and quotes everywhere", `a|b"c|d`, `sale:{"odd"}|key`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			member := indexMember(tt.id, tt.key, tt.qty)

			id, key, qty, err := parseIndexMember(member)
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.qty, qty)
		})
	}
}

func TestParseIndexMemberMalformed(t *testing.T) {
	for _, member := range []string{
		"not-json",
		"order|1234|P1|3",
		`{"id":"","res":"sale:widget","qty":3}`,
		`{"id":"resv-1","res":"sale:widget","qty":0}`,
	} {
		_, _, _, err := parseIndexMember(member)
		assert.Error(t, err, "member %q must not parse", member)
	}
}

// fakeSweepClient serves a canned expiry index and records removals; scripts
// always report one released hold.
type fakeSweepClient struct {
	members []string
	removed []string
}

func (c *fakeSweepClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return c.EvalSha(ctx, script, keys, args...)
}

func (c *fakeSweepClient) EvalSha(context.Context, string, []string, ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(int64(1), nil)
}

func (c *fakeSweepClient) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return c.EvalSha(ctx, script, keys, args...)
}

func (c *fakeSweepClient) EvalShaRO(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	return c.EvalSha(ctx, sha, keys, args...)
}

func (c *fakeSweepClient) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (c *fakeSweepClient) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func (c *fakeSweepClient) HSet(context.Context, string, ...interface{}) *redis.IntCmd {
	return redis.NewIntResult(0, nil)
}

func (c *fakeSweepClient) HGetAll(context.Context, string) *redis.MapStringStringCmd {
	return redis.NewMapStringStringResult(nil, nil)
}

func (c *fakeSweepClient) ZRangeByScore(context.Context, string, *redis.ZRangeBy) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(c.members, nil)
}

func (c *fakeSweepClient) ZRem(_ context.Context, _ string, members ...interface{}) *redis.IntCmd {
	for _, m := range members {
		c.removed = append(c.removed, m.(string))
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func TestExpireDueSkipsMalformedIndexMembers(t *testing.T) {
	valid := indexMember("resv-1", "sale:widget", 2)
	client := &fakeSweepClient{members: []string{"order|1234|P1|3", valid}}
	l := NewRedisLedger(client)

	released, err := l.ExpireDue(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, released, 1, "the sweep must get past the malformed member")
	assert.Equal(t, "resv-1", released[0].ID)

	// The malformed member is dropped so it cannot wedge the next sweep.
	assert.Equal(t, []string{"order|1234|P1|3"}, client.removed)
}
