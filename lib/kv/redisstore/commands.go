package redisstore

import (
	"context"
	"errors"
	"sort"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/redis/go-redis/v9"
)

// queue adds the redis equivalent of cmd to the pipeline and returns a function that
// reads the reply once the pipeline was executed. inTx selects KEYS instead of SCAN
// iteration (a cursor can not be used inside MULTI/EXEC).
func queue(ctx context.Context, p redis.Pipeliner, cmd *kv.Command, inTx bool) pendingResult {
	switch cmd.Type {

	// strings and generic keys

	case kv.CmdGet:
		return readBytes(p.Get(ctx, cmd.Key))
	case kv.CmdSet:
		var c *redis.StatusCmd
		if !cmd.At.IsZero() {
			c = p.SetArgs(ctx, cmd.Key, cmd.Value(), redis.SetArgs{ExpireAt: cmd.At})
		} else {
			c = p.Set(ctx, cmd.Key, cmd.Value(), ttlArg(cmd.TTL))
		}
		return readStatus(c)
	case kv.CmdSetNX:
		ttl := ttlArg(cmd.TTL)
		if !cmd.At.IsZero() {
			if ttl = ttlArg(cmd.At.Sub(timeNow())); ttl == 0 {
				return fixed(kv.Result{})
			}
		}
		return readBool(p.SetNX(ctx, cmd.Key, cmd.Value(), ttl))
	case kv.CmdDel:
		if len(cmd.Keys) == 0 {
			return fixed(kv.Result{})
		}
		return readInt(p.Del(ctx, cmd.Keys...))
	case kv.CmdExists:
		if len(cmd.Keys) == 0 {
			return fixed(kv.Result{})
		}
		return readInt(p.Exists(ctx, cmd.Keys...))
	case kv.CmdMGet:
		if len(cmd.Keys) == 0 {
			return fixed(kv.Result{Values: [][]byte{}})
		}
		c := p.MGet(ctx, cmd.Keys...)
		return func() kv.Result {
			vals, err := c.Result()
			if err != nil {
				return failed(err)
			}
			out := make([][]byte, len(vals))
			for i, v := range vals {
				if s, ok := v.(string); ok {
					out[i] = []byte(s)
				}
			}
			return kv.Result{Values: out}
		}
	case kv.CmdScan:
		if !inTx {
			// handled by execBatch
			return fixed(kv.Result{Err: kv.Errorf(kv.RetCInternalError, "scan must not be pipelined")})
		}
		return readStrings(p.Keys(ctx, cmd.Pattern))

	// hashes

	case kv.CmdHGet:
		return readBytes(p.HGet(ctx, cmd.Key, cmd.Field()))
	case kv.CmdHSet:
		if len(cmd.Fields) != len(cmd.Values) || len(cmd.Fields) == 0 {
			return fixed(kv.Result{Err: kv.Errorf(kv.RetCInvalidOperation, "HSET: %d fields but %d values", len(cmd.Fields), len(cmd.Values))})
		}
		args := make([]interface{}, 0, 2*len(cmd.Fields))
		for i, field := range cmd.Fields {
			args = append(args, field, cmd.Values[i])
		}
		return readInt(p.HSet(ctx, cmd.Key, args...))
	case kv.CmdHDel:
		if len(cmd.Fields) == 0 {
			return fixed(kv.Result{})
		}
		return readInt(p.HDel(ctx, cmd.Key, cmd.Fields...))
	case kv.CmdHGetAll:
		c := p.HGetAll(ctx, cmd.Key)
		return func() kv.Result {
			m, err := c.Result()
			if err != nil {
				return failed(err)
			}
			fields := make([]string, 0, len(m))
			for field := range m {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			values := make([][]byte, len(fields))
			for i, field := range fields {
				values[i] = []byte(m[field])
			}
			return kv.Result{Strings: fields, Values: values}
		}
	case kv.CmdHLen:
		return readInt(p.HLen(ctx, cmd.Key))
	case kv.CmdHExists:
		return readBool(p.HExists(ctx, cmd.Key, cmd.Field()))
	case kv.CmdHKeys:
		return readStrings(p.HKeys(ctx, cmd.Key))

	// lists

	case kv.CmdLPush, kv.CmdRPush:
		if len(cmd.Values) == 0 {
			return fixed(kv.Result{Err: kv.Errorf(kv.RetCInvalidOperation, "%s without values", cmd.Type)})
		}
		if cmd.Type == kv.CmdLPush {
			return readInt(p.LPush(ctx, cmd.Key, bytesArgs(cmd.Values)...))
		}
		return readInt(p.RPush(ctx, cmd.Key, bytesArgs(cmd.Values)...))
	case kv.CmdLIndex:
		return readBytes(p.LIndex(ctx, cmd.Key, cmd.Start))
	case kv.CmdLSet:
		return readStatus(p.LSet(ctx, cmd.Key, cmd.Start, cmd.Value()))
	case kv.CmdLRange:
		c := p.LRange(ctx, cmd.Key, cmd.Start, cmd.Stop)
		return func() kv.Result {
			vals, err := c.Result()
			if err != nil {
				return failed(err)
			}
			out := make([][]byte, len(vals))
			for i, v := range vals {
				out[i] = []byte(v)
			}
			return kv.Result{Values: out}
		}
	case kv.CmdLRem:
		return readInt(p.LRem(ctx, cmd.Key, cmd.Start, cmd.Value()))
	case kv.CmdLTrim:
		return readStatus(p.LTrim(ctx, cmd.Key, cmd.Start, cmd.Stop))
	case kv.CmdLPop:
		return readBytes(p.LPop(ctx, cmd.Key))
	case kv.CmdRPop:
		return readBytes(p.RPop(ctx, cmd.Key))
	case kv.CmdLLen:
		return readInt(p.LLen(ctx, cmd.Key))

	// expiry

	case kv.CmdExpire:
		return readBool(p.PExpire(ctx, cmd.Key, cmd.TTL))
	case kv.CmdExpireAt:
		return readBool(p.PExpireAt(ctx, cmd.Key, cmd.At))
	case kv.CmdPersist:
		return readBool(p.Persist(ctx, cmd.Key))
	case kv.CmdTTL:
		c := p.PTTL(ctx, cmd.Key)
		return func() kv.Result {
			ttl, err := c.Result()
			if err != nil {
				return failed(err)
			}
			return kv.Result{TTL: ttl}
		}
	}

	return fixed(kv.Result{Err: kv.Errorf(kv.RetCInvalidOperation, "unknown command %s", cmd.Type)})
}

// --------------------------------------------------------------------------
// Reply readers
// --------------------------------------------------------------------------

func readBytes(c *redis.StringCmd) pendingResult {
	return func() kv.Result {
		v, err := c.Bytes()
		if errors.Is(err, redis.Nil) {
			return kv.Result{}
		}
		if err != nil {
			return failed(err)
		}
		return kv.Result{Ok: true, Value: v}
	}
}

func readStatus(c *redis.StatusCmd) pendingResult {
	return func() kv.Result {
		if err := c.Err(); err != nil {
			return failed(err)
		}
		return kv.Result{Ok: true}
	}
}

func readBool(c *redis.BoolCmd) pendingResult {
	return func() kv.Result {
		v, err := c.Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return failed(err)
		}
		return kv.Result{Ok: v}
	}
}

func readInt(c *redis.IntCmd) pendingResult {
	return func() kv.Result {
		v, err := c.Result()
		if err != nil {
			return failed(err)
		}
		return kv.Result{Int: v}
	}
}

func readStrings(c *redis.StringSliceCmd) pendingResult {
	return func() kv.Result {
		v, err := c.Result()
		if err != nil {
			return failed(err)
		}
		sort.Strings(v)
		return kv.Result{Strings: v}
	}
}
