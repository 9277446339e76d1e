package directory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Hillfoul007/cleancare-dispatch/internal/models"
)

// Redis implements Directory on top of a Redis instance shared by the API
// fleet and the heartbeat consumers. Position lives in a GEO key, the rest
// of the rider record in a hash, and eligibility in a set maintained on
// every state change so ListEligible stays a set read plus hash loads.
type Redis struct {
	client *redis.Client
	geoKey string
	now    func() time.Time
}

const eligibleKey = "riders:eligible"

func NewRedis(addr, password, geoKey string) *Redis {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Redis{client: c, geoKey: geoKey, now: time.Now}
}

func metaKey(riderID string) string { return "rider:meta:" + riderID }

// monthField is the hash field holding the earnings aggregate for one
// month bucket; using a field per bucket keeps the increment atomic and
// makes month rollover implicit.
func monthField(t time.Time) string { return "earnings:" + t.Format("2006-01") }

func (r *Redis) Register(ctx context.Context, rd models.Rider) error {
	fields := map[string]interface{}{
		"name":              rd.Name,
		"vehicle":           string(rd.Vehicle),
		"rating":            rd.Rating,
		"online":            strconv.FormatBool(rd.Online),
		"status":            string(rd.Status),
		"service_radius_km": rd.ServiceRadiusKm,
		"active_request":    rd.ActiveRequestID,
	}
	if rd.Loc != nil {
		fields["lat"] = rd.Loc.Lat
		fields["lng"] = rd.Loc.Lng
		if _, err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{Longitude: rd.Loc.Lng, Latitude: rd.Loc.Lat, Name: rd.ID}).Result(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if err := r.client.HSet(ctx, metaKey(rd.ID), fields).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return r.refreshEligibility(ctx, rd.ID)
}

func (r *Redis) Get(ctx context.Context, riderID string) (models.Rider, error) {
	m, err := r.client.HGetAll(ctx, metaKey(riderID)).Result()
	if err != nil {
		return models.Rider{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(m) == 0 {
		return models.Rider{}, ErrRiderNotFound
	}
	return riderFromHash(riderID, m, r.now()), nil
}

func (r *Redis) SetLocation(ctx context.Context, riderID string, loc models.Coord) error {
	key := metaKey(riderID)
	cur, err := r.client.HMGet(ctx, key, "lat", "lng").Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists == 0 {
		return ErrRiderNotFound
	}
	if sameCoord(cur, loc) {
		return nil
	}
	if _, err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: riderID}).Result(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	fields := map[string]interface{}{
		"lat":         loc.Lat,
		"lng":         loc.Lng,
		"loc_updated": r.now().Format(time.RFC3339),
	}
	if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return r.refreshEligibility(ctx, riderID)
}

func (r *Redis) SetOnline(ctx context.Context, riderID string, online bool, loc *models.Coord) error {
	key := metaKey(riderID)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists == 0 {
		return ErrRiderNotFound
	}
	if err := r.client.HSet(ctx, key, "online", strconv.FormatBool(online)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if loc != nil {
		if err := r.SetLocation(ctx, riderID, *loc); err != nil {
			return err
		}
	}
	return r.refreshEligibility(ctx, riderID)
}

func (r *Redis) ListEligible(ctx context.Context) ([]models.Rider, error) {
	ids, err := r.client.SMembers(ctx, eligibleKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out := make([]models.Rider, 0, len(ids))
	for _, id := range ids {
		rd, err := r.Get(ctx, id)
		if err == ErrRiderNotFound {
			// stale set member; drop it
			_ = r.client.SRem(ctx, eligibleKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if eligible(rd) {
			out = append(out, rd)
		}
	}
	return out, nil
}

func (r *Redis) SetActiveRequest(ctx context.Context, riderID, requestID string) error {
	key := metaKey(riderID)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists == 0 {
		return ErrRiderNotFound
	}
	if err := r.client.HSet(ctx, key, "active_request", requestID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return r.refreshEligibility(ctx, riderID)
}

func (r *Redis) RecordCompletion(ctx context.Context, riderID string, amount float64, when time.Time) error {
	key := metaKey(riderID)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists == 0 {
		return ErrRiderNotFound
	}
	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, key, "total", 1)
	pipe.HIncrBy(ctx, key, "completed", 1)
	pipe.HIncrByFloat(ctx, key, "earnings_total", amount)
	pipe.HIncrByFloat(ctx, key, monthField(when), amount)
	pipe.HSet(ctx, key, "last_active", when.Format(time.RFC3339))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) RecordCancellation(ctx context.Context, riderID string) error {
	key := metaKey(riderID)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists == 0 {
		return ErrRiderNotFound
	}
	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, key, "total", 1)
	pipe.HIncrBy(ctx, key, "cancelled", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) refreshEligibility(ctx context.Context, riderID string) error {
	rd, err := r.Get(ctx, riderID)
	if err != nil {
		return err
	}
	if eligible(rd) {
		err = r.client.SAdd(ctx, eligibleKey, riderID).Err()
	} else {
		err = r.client.SRem(ctx, eligibleKey, riderID).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func sameCoord(vals []interface{}, loc models.Coord) bool {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return false
	}
	lat, ok1 := vals[0].(string)
	lng, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return false
	}
	fLat, err1 := strconv.ParseFloat(lat, 64)
	fLng, err2 := strconv.ParseFloat(lng, 64)
	return err1 == nil && err2 == nil && fLat == loc.Lat && fLng == loc.Lng
}

func riderFromHash(id string, m map[string]string, now time.Time) models.Rider {
	rd := models.Rider{
		ID:              id,
		Name:            m["name"],
		Vehicle:         models.VehicleClass(m["vehicle"]),
		Status:          models.AccountStatus(m["status"]),
		ActiveRequestID: m["active_request"],
	}
	rd.Rating, _ = strconv.ParseFloat(m["rating"], 64)
	rd.ServiceRadiusKm, _ = strconv.ParseFloat(m["service_radius_km"], 64)
	rd.Online = m["online"] == "true"
	if lat, ok := m["lat"]; ok {
		if lng, ok := m["lng"]; ok {
			fLat, err1 := strconv.ParseFloat(lat, 64)
			fLng, err2 := strconv.ParseFloat(lng, 64)
			if err1 == nil && err2 == nil {
				rd.Loc = &models.Coord{Lat: fLat, Lng: fLng}
			}
		}
	}
	rd.EarningsTotal, _ = strconv.ParseFloat(m["earnings_total"], 64)
	rd.EarningsThisMonth, _ = strconv.ParseFloat(m[monthField(now)], 64)
	if v, err := strconv.Atoi(m["total"]); err == nil {
		rd.TotalDeliveries = v
	}
	if v, err := strconv.Atoi(m["completed"]); err == nil {
		rd.CompletedDeliveries = v
	}
	if v, err := strconv.Atoi(m["cancelled"]); err == nil {
		rd.CancelledDeliveries = v
	}
	if v, err := time.Parse(time.RFC3339, m["last_active"]); err == nil {
		rd.LastActiveAt = v
	}
	if v, err := time.Parse(time.RFC3339, m["loc_updated"]); err == nil {
		rd.LocUpdatedAt = v
	}
	return rd
}
