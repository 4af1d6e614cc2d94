package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/lease"
)

// DefaultPrefix — префикс ключей по умолчанию.
const DefaultPrefix = "arbiter"

// Поля hash-записи lease.
const (
	fieldGroup     = "group"
	fieldName      = "name"
	fieldExecID    = "exec"
	fieldJob       = "job"
	fieldType      = "type"
	fieldOwner     = "owner"
	fieldEvent     = "event"
	fieldAcquired  = "acquired"
	fieldExpires   = "expires"
	fieldCompleted = "completed"
)

// putScript — условная запись lease. Время берётся из Redis (TIME),
// чтобы все инстансы сравнивали истечение по одним часам.
//
// KEYS[1] — ключ записи, KEYS[2] — индекс ключей.
// ARGV: owner, event, duration_ms, group, name, exec, job, type.
// Возвращает {acquired, owner, event, acquired_ms, expires_ms, completed_ms}.
var putScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local cur = redis.call('HMGET', KEYS[1], 'owner', 'event', 'acquired', 'expires', 'completed')

if cur[1] then
  local completed = cur[5] or ''
  if completed ~= '' then
    return {0, cur[1], cur[2], cur[3], cur[4], completed}
  end
  if tonumber(cur[4]) > now then
    if cur[1] ~= ARGV[1] then
      return {0, cur[1], cur[2], cur[3], cur[4], ''}
    end
    local expires = tostring(now + tonumber(ARGV[3]))
    redis.call('HSET', KEYS[1], 'expires', expires)
    return {1, cur[1], cur[2], cur[3], expires, ''}
  end
end

local acquired = tostring(now)
local expires = tostring(now + tonumber(ARGV[3]))
redis.call('HSET', KEYS[1],
  'group', ARGV[4], 'name', ARGV[5], 'exec', ARGV[6], 'job', ARGV[7], 'type', ARGV[8],
  'owner', ARGV[1], 'event', ARGV[2], 'acquired', acquired, 'expires', expires, 'completed', '')
redis.call('SADD', KEYS[2], KEYS[1])
return {1, ARGV[1], ARGV[2], acquired, expires, ''}
`)

// completeScript — терминальный маркер при совпадении владельца.
// Возвращает 1 при успехе, 0 если записи нет или владелец другой.
var completeScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'owner')
if not owner or owner ~= ARGV[1] then
  return 0
end
local completed = redis.call('HGET', KEYS[1], 'completed')
if completed and completed ~= '' then
  return 1
end
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
redis.call('HSET', KEYS[1], 'completed', tostring(now))
return 1
`)

// ActionStore — lease.ActionStore поверх Redis.
//
// Каждая запись — hash по ключу <prefix>:lease:<action key>,
// множество <prefix>:leases хранит ключи всех записей для ListPending и PurgeCompleted.
type ActionStore struct {
	client redis.UniversalClient
	prefix string
}

var _ lease.ActionStore = (*ActionStore)(nil)

// NewActionStore создаёт хранилище. Пустой prefix — DefaultPrefix.
func NewActionStore(client redis.UniversalClient, prefix string) *ActionStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &ActionStore{client: client, prefix: prefix}
}

func (s *ActionStore) recordKey(action domain.DagAction) string {
	return s.prefix + ":lease:" + action.Key()
}

func (s *ActionStore) indexKey() string {
	return s.prefix + ":leases"
}

func storeErr(op string, err error) error {
	return &lease.StoreError{Op: "redis " + op, Err: err}
}

// Put выполняет условную запись одним Lua-скриптом.
func (s *ActionStore) Put(ctx context.Context, action domain.DagAction, candidate lease.LeaseCandidate) (lease.PutOutcome, error) {
	res, err := putScript.Run(ctx, s.client,
		[]string{s.recordKey(action), s.indexKey()},
		candidate.Owner,
		candidate.EventTimeMillis,
		candidate.Duration.Milliseconds(),
		action.FlowGroup,
		action.FlowName,
		action.FlowExecutionID,
		action.JobName,
		action.ActionType.String(),
	).Slice()
	if err != nil {
		return lease.PutOutcome{}, storeErr("put", err)
	}

	acquired, rec, err := decodePutReply(res)
	if err != nil {
		return lease.PutOutcome{}, storeErr("put", err)
	}
	rec.Action = action
	return lease.PutOutcome{Acquired: acquired, Record: rec}, nil
}

// Get возвращает текущую запись.
func (s *ActionStore) Get(ctx context.Context, action domain.DagAction) (domain.LeaseRecord, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(action)).Result()
	if err != nil {
		return domain.LeaseRecord{}, false, storeErr("get", err)
	}
	if len(fields) == 0 {
		return domain.LeaseRecord{}, false, nil
	}

	rec, err := decodeRecord(fields)
	if err != nil {
		return domain.LeaseRecord{}, false, storeErr("get", err)
	}
	return rec, true, nil
}

// Delete удаляет запись и её ключ из индекса.
func (s *ActionStore) Delete(ctx context.Context, action domain.DagAction) error {
	key := s.recordKey(action)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return storeErr("delete", err)
	}
	return nil
}

// Complete ставит терминальный маркер, если владелец не сменился.
func (s *ActionStore) Complete(ctx context.Context, action domain.DagAction, owner string) error {
	ok, err := completeScript.Run(ctx, s.client, []string{s.recordKey(action)}, owner).Int()
	if err != nil {
		return storeErr("complete", err)
	}
	if ok == 0 {
		return lease.ErrNotOwner
	}
	return nil
}

// ListPending возвращает незавершённые записи, отсортированные по времени события.
func (s *ActionStore) ListPending(ctx context.Context) ([]domain.LeaseRecord, error) {
	records, err := s.loadAll(ctx, "list pending")
	if err != nil {
		return nil, err
	}

	pending := records[:0]
	for _, rec := range records {
		if !rec.IsCompleted() {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].EventTimeMillis < pending[j].EventTimeMillis
	})
	return pending, nil
}

// PurgeCompleted удаляет завершённые записи старше olderThan.
func (s *ActionStore) PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	records, err := s.loadAll(ctx, "purge completed")
	if err != nil {
		return 0, err
	}

	var keys []string
	for _, rec := range records {
		if rec.IsCompleted() && rec.CompletedAt.Before(olderThan) {
			keys = append(keys, s.recordKey(rec.Action))
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, storeErr("purge completed", err)
	}
	return len(keys), nil
}

// loadAll читает все записи из индекса. Ключи без записи
// (удалённые в обход индекса) вычищаются из индекса.
func (s *ActionStore) loadAll(ctx context.Context, op string) ([]domain.LeaseRecord, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, storeErr(op, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(op, err)
	}

	records := make([]domain.LeaseRecord, 0, len(keys))
	var stale []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, keys[i])
			continue
		}
		rec, err := decodeRecord(fields)
		if err != nil {
			return nil, storeErr(op, fmt.Errorf("key %s: %w", keys[i], err))
		}
		records = append(records, rec)
	}

	if len(stale) > 0 {
		_ = s.client.SRem(ctx, s.indexKey(), stale...).Err()
	}
	return records, nil
}

// decodePutReply разбирает ответ putScript. Action не заполняется.
func decodePutReply(res []any) (bool, domain.LeaseRecord, error) {
	if len(res) != 6 {
		return false, domain.LeaseRecord{}, fmt.Errorf("unexpected put reply length %d", len(res))
	}

	acquired, ok := res[0].(int64)
	if !ok {
		return false, domain.LeaseRecord{}, fmt.Errorf("unexpected put reply flag %T", res[0])
	}

	str := make([]string, 5)
	for i := range str {
		v, ok := res[i+1].(string)
		if !ok {
			return false, domain.LeaseRecord{}, fmt.Errorf("unexpected put reply field %d: %T", i+1, res[i+1])
		}
		str[i] = v
	}

	rec, err := buildRecord(str[0], str[1], str[2], str[3], str[4])
	if err != nil {
		return false, domain.LeaseRecord{}, err
	}
	return acquired == 1, rec, nil
}

// decodeRecord собирает запись из полей hash.
func decodeRecord(fields map[string]string) (domain.LeaseRecord, error) {
	execID, err := strconv.ParseInt(fields[fieldExecID], 10, 64)
	if err != nil {
		return domain.LeaseRecord{}, fmt.Errorf("parse %s: %w", fieldExecID, err)
	}
	actionType, err := domain.ParseDagActionType(fields[fieldType])
	if err != nil {
		return domain.LeaseRecord{}, err
	}

	rec, err := buildRecord(fields[fieldOwner], fields[fieldEvent], fields[fieldAcquired], fields[fieldExpires], fields[fieldCompleted])
	if err != nil {
		return domain.LeaseRecord{}, err
	}
	rec.Action = domain.DagAction{
		FlowGroup:       fields[fieldGroup],
		FlowName:        fields[fieldName],
		FlowExecutionID: execID,
		JobName:         fields[fieldJob],
		ActionType:      actionType,
	}
	return rec, nil
}

func buildRecord(owner, event, acquired, expires, completed string) (domain.LeaseRecord, error) {
	var (
		rec  = domain.LeaseRecord{Owner: owner}
		errs []error
	)

	var err error
	if rec.EventTimeMillis, err = strconv.ParseInt(event, 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("parse %s: %w", fieldEvent, err))
	}
	if rec.AcquiredAt, err = parseMillisTime(acquired); err != nil {
		errs = append(errs, fmt.Errorf("parse %s: %w", fieldAcquired, err))
	}
	if rec.ExpiresAt, err = parseMillisTime(expires); err != nil {
		errs = append(errs, fmt.Errorf("parse %s: %w", fieldExpires, err))
	}
	if completed != "" {
		t, err := parseMillisTime(completed)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", fieldCompleted, err))
		} else {
			rec.CompletedAt = &t
		}
	}
	return rec, errors.Join(errs...)
}

func parseMillisTime(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
