package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/job-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const jobColumns = `id, provider_id, provider_name, provider_addr_type, provider_addr, provider_city,
provider_state, provider_pincode, provider_lat, provider_lon,
customer_id, customer_name, customer_phone, customer_addr, customer_city,
customer_state, customer_pincode, customer_lat, customer_lon,
service_type, problem, questionnaire, consultation_id, status, task_pin,
pin_generated_at, cancellation_reason, cancelled_at, created_at, updated_at`

func (p *PostgresStore) CreateJob(ctx context.Context, j *models.JobCard) error {
	qa, err := marshalAnswers(j.QuestionnaireAnswers)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO job_cards(`+jobColumns+`) VALUES
($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)`,
		j.ID, nullStr(j.ProviderID), nullStr(j.ProviderName),
		j.ProviderAddress.Type, j.ProviderAddress.Address, j.ProviderAddress.City,
		j.ProviderAddress.State, j.ProviderAddress.Pincode, j.ProviderAddress.Lat, j.ProviderAddress.Lon,
		j.CustomerID, j.CustomerName, j.CustomerPhone,
		j.CustomerAddress.Address, j.CustomerAddress.City,
		j.CustomerAddress.State, j.CustomerAddress.Pincode, j.CustomerAddress.Lat, j.CustomerAddress.Lon,
		j.ServiceType, nullStr(j.Problem), qa, nullStr(j.ConsultationID), string(j.Status), nullStr(j.TaskPIN),
		j.PINGeneratedAt, nullStr(j.CancellationReason), j.CancelledAt, j.CreatedAt, j.UpdatedAt)
	return err
}

// UpdateJob rewrites every mutable field; transitions are serialized per job
// by the controller so a blind write is safe here.
func (p *PostgresStore) UpdateJob(ctx context.Context, j *models.JobCard) error {
	res, err := p.db.ExecContext(ctx, `UPDATE job_cards SET
provider_id=$1, provider_name=$2, provider_addr_type=$3, provider_addr=$4, provider_city=$5,
provider_state=$6, provider_pincode=$7, provider_lat=$8, provider_lon=$9,
status=$10, task_pin=$11, pin_generated_at=$12, cancellation_reason=$13, cancelled_at=$14, updated_at=$15
WHERE id=$16`,
		nullStr(j.ProviderID), nullStr(j.ProviderName),
		j.ProviderAddress.Type, j.ProviderAddress.Address, j.ProviderAddress.City,
		j.ProviderAddress.State, j.ProviderAddress.Pincode, j.ProviderAddress.Lat, j.ProviderAddress.Lon,
		string(j.Status), nullStr(j.TaskPIN), j.PINGeneratedAt, nullStr(j.CancellationReason), j.CancelledAt, time.Now(), j.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (p *PostgresStore) GetJob(ctx context.Context, id string) (*models.JobCard, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM job_cards WHERE id=$1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func (p *PostgresStore) ListByProvider(ctx context.Context, providerID string) ([]*models.JobCard, error) {
	return p.query(ctx, `SELECT `+jobColumns+` FROM job_cards WHERE provider_id=$1 ORDER BY created_at`, providerID)
}

func (p *PostgresStore) ListByCustomer(ctx context.Context, customerID string) ([]*models.JobCard, error) {
	return p.query(ctx, `SELECT `+jobColumns+` FROM job_cards WHERE customer_id=$1 ORDER BY created_at`, customerID)
}

func (p *PostgresStore) query(ctx context.Context, q string, arg any) ([]*models.JobCard, error) {
	rows, err := p.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.JobCard
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*models.JobCard, error) {
	var j models.JobCard
	var providerID, providerName, problem, questionnaire, consultationID, taskPIN, cancelReason sql.NullString
	var pinAt, cancelledAt sql.NullTime
	var status string
	err := r.Scan(&j.ID, &providerID, &providerName,
		&j.ProviderAddress.Type, &j.ProviderAddress.Address, &j.ProviderAddress.City,
		&j.ProviderAddress.State, &j.ProviderAddress.Pincode, &j.ProviderAddress.Lat, &j.ProviderAddress.Lon,
		&j.CustomerID, &j.CustomerName, &j.CustomerPhone,
		&j.CustomerAddress.Address, &j.CustomerAddress.City,
		&j.CustomerAddress.State, &j.CustomerAddress.Pincode, &j.CustomerAddress.Lat, &j.CustomerAddress.Lon,
		&j.ServiceType, &problem, &questionnaire, &consultationID, &status, &taskPIN,
		&pinAt, &cancelReason, &cancelledAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.ProviderID = providerID.String
	j.ProviderName = providerName.String
	j.Problem = problem.String
	j.ConsultationID = consultationID.String
	j.Status = models.JobStatus(status)
	j.TaskPIN = taskPIN.String
	j.CancellationReason = cancelReason.String
	if pinAt.Valid {
		t := pinAt.Time
		j.PINGeneratedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		j.CancelledAt = &t
	}
	if questionnaire.Valid && questionnaire.String != "" {
		if err := json.Unmarshal([]byte(questionnaire.String), &j.QuestionnaireAnswers); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

func marshalAnswers(qa map[string]string) (sql.NullString, error) {
	if len(qa) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(qa)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
