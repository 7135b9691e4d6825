package expiration

import (
	"context"
	"sort"
	"strconv"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/redis/go-redis/v9"
)

// RedisIndex stores each cache's records in a sorted set
// (<prefix>:expiration:<cache>) scored by write time in microseconds. A
// companion hash (<set>:seq) holds a per-URL write sequence that orders
// records sharing a timestamp.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

func NewRedisIndex(client *redis.Client, prefix string) *RedisIndex {
	return &RedisIndex{client: client, prefix: prefix}
}

func (r *RedisIndex) key(cache string) string {
	if r.prefix == "" {
		return "expiration:" + cache
	}
	return r.prefix + ":expiration:" + cache
}

func (r *RedisIndex) SetTimestamp(ctx context.Context, cache, url string, ts time.Time) error {
	key := r.key(cache)
	seq, err := r.client.Incr(ctx, key+":next").Result()
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "redis next sequence failed")
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(ts.UnixMicro()), Member: url})
		p.HSet(ctx, key+":seq", url, seq)
		return nil
	})
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "redis set timestamp failed")
	}
	return nil
}

func (r *RedisIndex) Expire(ctx context.Context, cache string, maxEntries int, maxAge time.Duration, now time.Time) ([]string, error) {
	key := r.key(cache)
	records, err := r.records(ctx, key)
	if err != nil {
		return nil, err
	}
	victims := plan(records, maxEntries, maxAge, now)
	if err := r.remove(ctx, key, victims); err != nil {
		return nil, err
	}
	return victims, nil
}

func (r *RedisIndex) remove(ctx context.Context, key string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	members := make([]interface{}, len(urls))
	for i, u := range urls {
		members[i] = u
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, key, members...)
		p.HDel(ctx, key+":seq", urls...)
		return nil
	})
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "redis remove failed")
	}
	return nil
}

func (r *RedisIndex) Delete(ctx context.Context, cache, url string) error {
	return r.remove(ctx, r.key(cache), []string{url})
}

func (r *RedisIndex) Records(ctx context.Context, cache string) ([]Record, error) {
	return r.records(ctx, r.key(cache))
}

// records lists the set oldest first, breaking score ties by write sequence.
func (r *RedisIndex) records(ctx context.Context, key string) ([]Record, error) {
	var zs *redis.ZSliceCmd
	var seqs *redis.MapStringStringCmd
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		zs = p.ZRangeWithScores(ctx, key, 0, -1)
		seqs = p.HGetAll(ctx, key+":seq")
		return nil
	})
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "redis list records failed")
	}

	type row struct {
		Record
		seq int64
	}
	bySeq := seqs.Val()
	rows := make([]row, 0, len(zs.Val()))
	for _, z := range zs.Val() {
		url, _ := z.Member.(string)
		seq, _ := strconv.ParseInt(bySeq[url], 10, 64)
		rows = append(rows, row{
			Record: Record{URL: url, Timestamp: time.UnixMicro(int64(z.Score))},
			seq:    seq,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = row.Record
	}
	return out, nil
}
