package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"crewroute/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Ping checks database connectivity for readiness probes.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// MigrateDir applies *.sql files from dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("migration %s: %w", n, err)
		}
	}
	return nil
}

func (p *Postgres) ListCompanies(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id FROM companies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *Postgres) ListCustomers(ctx context.Context, companyID string) ([]model.Customer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(address,''), lat, lng, status, last_service, plans
		FROM customers WHERE company_id=$1`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Customer{}
	for rows.Next() {
		c := model.Customer{CompanyID: companyID}
		var last sql.NullTime
		var plans []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.Address, &c.Location.Lat, &c.Location.Lng, &c.Status, &last, &plans); err != nil {
			return nil, err
		}
		if last.Valid {
			t := last.Time
			c.LastService = &t
		}
		if len(plans) > 0 {
			if err := json.Unmarshal(plans, &c.Plans); err != nil {
				return nil, fmt.Errorf("customer %s plans: %w", c.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) ListEmployees(ctx context.Context, companyID string) ([]model.Employee, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, role, COALESCE(crew_id,''), service_types, available
		FROM employees WHERE company_id=$1`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Employee{}
	for rows.Next() {
		e := model.Employee{CompanyID: companyID}
		var types []byte
		if err := rows.Scan(&e.ID, &e.Name, &e.Role, &e.CrewID, &types, &e.Available); err != nil {
			return nil, err
		}
		if len(types) > 0 {
			if err := json.Unmarshal(types, &e.ServiceTypes); err != nil {
				return nil, fmt.Errorf("employee %s service types: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) BaseLocation(ctx context.Context, companyID string) (model.GeoPoint, string, error) {
	var pt model.GeoPoint
	var addr string
	err := p.db.QueryRowContext(ctx,
		`SELECT base_lat, base_lng, COALESCE(base_address,'') FROM companies WHERE id=$1`, companyID).
		Scan(&pt.Lat, &pt.Lng, &addr)
	if errors.Is(err, sql.ErrNoRows) {
		return model.GeoPoint{}, "", ErrNotFound
	}
	return pt, addr, err
}

func (p *Postgres) SaveRoute(ctx context.Context, route model.DailyRoute) error {
	stops, err := json.Marshal(route.Stops)
	if err != nil {
		return err
	}
	geom, err := json.Marshal(route.Geometry)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	// Superseded routes for the same crew/date are removed, not mutated.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM daily_routes WHERE company_id=$1 AND crew_id=$2 AND plan_date=$3 AND id<>$4`,
		route.CompanyID, route.CrewID, route.Date, route.ID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_routes (id, company_id, crew_id, plan_date, stops, geometry, estimated_minutes, distance_meters, degraded, cache_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET stops=EXCLUDED.stops, geometry=EXCLUDED.geometry,
			estimated_minutes=EXCLUDED.estimated_minutes, distance_meters=EXCLUDED.distance_meters,
			degraded=EXCLUDED.degraded, cache_key=EXCLUDED.cache_key`,
		route.ID, route.CompanyID, route.CrewID, route.Date, stops, geom,
		route.EstimatedMinutes, route.DistanceMeters, route.Degraded, route.CacheKey, route.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) scanRoute(row interface{ Scan(...any) error }) (model.DailyRoute, error) {
	var r model.DailyRoute
	var stops, geom []byte
	err := row.Scan(&r.ID, &r.CompanyID, &r.CrewID, &r.Date, &stops, &geom,
		&r.EstimatedMinutes, &r.DistanceMeters, &r.Degraded, &r.CacheKey, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DailyRoute{}, ErrNotFound
	}
	if err != nil {
		return model.DailyRoute{}, err
	}
	if len(stops) > 0 {
		if err := json.Unmarshal(stops, &r.Stops); err != nil {
			return model.DailyRoute{}, err
		}
	}
	if len(geom) > 0 {
		if err := json.Unmarshal(geom, &r.Geometry); err != nil {
			return model.DailyRoute{}, err
		}
	}
	return r, nil
}

const routeCols = `id, company_id, crew_id, plan_date, stops, geometry, estimated_minutes, distance_meters, degraded, COALESCE(cache_key,''), created_at`

func (p *Postgres) GetRoute(ctx context.Context, companyID, routeID string) (model.DailyRoute, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+routeCols+` FROM daily_routes WHERE company_id=$1 AND id=$2`, companyID, routeID)
	return p.scanRoute(row)
}

func (p *Postgres) RouteForCrew(ctx context.Context, companyID, crewID, date string) (model.DailyRoute, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+routeCols+` FROM daily_routes WHERE company_id=$1 AND crew_id=$2 AND plan_date=$3`,
		companyID, crewID, date)
	return p.scanRoute(row)
}

func (p *Postgres) ListRoutes(ctx context.Context, companyID, date string) ([]model.DailyRoute, error) {
	q := `SELECT ` + routeCols + ` FROM daily_routes WHERE company_id=$1`
	args := []any{companyID}
	if date != "" {
		q += ` AND plan_date=$2`
		args = append(args, date)
	}
	q += ` ORDER BY crew_id`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DailyRoute{}
	for rows.Next() {
		r, err := p.scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateStopStatus(ctx context.Context, companyID, routeID, stopID string, status model.StopStatus, arrival, departure *time.Time) (model.DailyRoute, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DailyRoute{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+routeCols+` FROM daily_routes WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, routeID)
	r, err := p.scanRoute(row)
	if err != nil {
		return model.DailyRoute{}, err
	}
	idx := -1
	for i := range r.Stops {
		if r.Stops[i].ID == stopID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return model.DailyRoute{}, ErrNotFound
	}
	s := r.Stops[idx]
	if !s.Status.CanTransition(status) {
		return model.DailyRoute{}, fmt.Errorf("%w: stop %s is %s, cannot become %s", ErrConflict, stopID, s.Status, status)
	}
	s.Status = status
	if arrival != nil && s.ActualArrival == nil {
		s.ActualArrival = arrival
	}
	if departure != nil && s.ActualDeparture == nil {
		s.ActualDeparture = departure
	}
	r.Stops[idx] = s

	stops, err := json.Marshal(r.Stops)
	if err != nil {
		return model.DailyRoute{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE daily_routes SET stops=$1 WHERE id=$2`, stops, routeID); err != nil {
		return model.DailyRoute{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.DailyRoute{}, err
	}
	return r, nil
}

func (p *Postgres) SaveUnassigned(ctx context.Context, companyID, date string, items []model.UnassignedCustomer) error {
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO unassigned_customers (company_id, plan_date, items)
		VALUES ($1,$2,$3)
		ON CONFLICT (company_id, plan_date) DO UPDATE SET items=EXCLUDED.items`,
		companyID, date, b)
	return err
}

func (p *Postgres) ListUnassigned(ctx context.Context, companyID, date string) ([]model.UnassignedCustomer, error) {
	var b []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT items FROM unassigned_customers WHERE company_id=$1 AND plan_date=$2`, companyID, date).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return []model.UnassignedCustomer{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []model.UnassignedCustomer{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return model.Subscription{}, err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, company_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
		sub.ID, sub.CompanyID, sub.URL, events, sub.Secret)
	return sub, err
}

func (p *Postgres) ListSubscriptions(ctx context.Context, companyID string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, url, events, secret FROM subscriptions WHERE company_id=$1 ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		s := model.Subscription{CompanyID: companyID}
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(events, &s.Events); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, companyID, id string) error {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE company_id=$1 AND id=$2`, companyID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SubscriptionsForEvent(ctx context.Context, companyID, eventType string) ([]model.Subscription, error) {
	subs, err := p.ListSubscriptions(ctx, companyID)
	if err != nil {
		return nil, err
	}
	out := []model.Subscription{}
	for _, s := range subs {
		if s.Wants(eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, d WebhookDelivery) (string, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, company_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now())`,
		d.ID, d.CompanyID, d.SubscriptionID, d.EventType, d.URL, d.Secret, d.Payload)
	return d.ID, err
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, company_id, COALESCE(subscription_id,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries
		WHERE status IN ('pending','retry') AND next_attempt_at <= now()
		ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `
			UPDATE webhook_deliveries
			SET status='delivered', attempts=attempts+1, response_code=$2, latency_ms=$3, delivered_at=now()
			WHERE id=$1`, id, responseCode, latencyMs)
		return err
	}
	next := time.Now().Add(time.Minute)
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status='retry', attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4, next_attempt_at=$5
		WHERE id=$1`, id, lastError, responseCode, latencyMs, next)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status='failed', attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4
		WHERE id=$1`, id, lastError, responseCode, latencyMs)
	return err
}
