// Package caldb persists calibration sessions, their measurement sets and
// estimation runs in a sqlite database.
package caldb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/gyrocal/internal/gyrocal"
)

type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at path and applies all pending
// schema migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// sqlite allows a single writer; a second connection would fail with
	// SQLITE_BUSY instead of queueing.
	db.SetMaxOpenConns(1)

	cdb := &DB{db}
	if err := cdb.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return cdb, nil
}

// Session is one recorded calibration data-collection session.
type Session struct {
	ID        string
	Name      string
	Device    string
	CreatedAt time.Time
}

// Run is one estimation run over a session's measurements, with the
// resulting model if the run succeeded.
type Run struct {
	ID         string
	SessionID  string
	Method     string
	Params     string // JSON snapshot of the tuning values used
	Model      *gyrocal.Model
	InlierMask []bool
	NumInliers int
	Iterations int
	CreatedAt  time.Time
}

// RunParams is the JSON shape stored in runs.params_json.
type RunParams struct {
	Method          string     `json:"method"`
	Confidence      float64    `json:"confidence"`
	MaxIterations   int        `json:"max_iterations"`
	SubsetSize      int        `json:"subset_size"`
	InlierThreshold float64    `json:"inlier_threshold"`
	CommonAxis      bool       `json:"common_axis"`
	Seed            int64      `json:"seed"`
	Bias            [3]float64 `json:"bias"`
}

// CreateSession inserts a new session and returns its generated ID.
func (db *DB) CreateSession(name, device string) (string, error) {
	id := uuid.New().String()
	_, err := db.Exec(
		`INSERT INTO sessions (id, name, device) VALUES (?, ?, ?)`,
		id, name, device,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// GetSession fetches a single session by ID.
func (db *DB) GetSession(id string) (*Session, error) {
	var s Session
	err := db.QueryRow(
		`SELECT id, name, COALESCE(device, ''), created_at FROM sessions WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.Name, &s.Device, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &s, nil
}

// ListSessions returns all sessions, newest first.
func (db *DB) ListSessions() ([]Session, error) {
	rows, err := db.Query(
		`SELECT id, name, COALESCE(device, ''), created_at FROM sessions ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Name, &s.Device, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// AddMeasurements appends measurements to a session inside one
// transaction. Sequence numbers continue from the last stored row, so the
// call is safe to repeat for streamed collection.
func (db *DB) AddMeasurements(sessionID string, measurements []gyrocal.Measurement) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq)+1, 0) FROM measurements WHERE session_id = ?`,
		sessionID,
	).Scan(&next); err != nil {
		return fmt.Errorf("failed to read measurement sequence: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO measurements (
			session_id, seq,
			rate_x, rate_y, rate_z,
			force_x, force_y, force_z,
			dt, std_x, std_y, std_z,
			frame_json, prev_frame_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range measurements {
		frameJSON, err := json.Marshal(m.Frame)
		if err != nil {
			return fmt.Errorf("failed to encode frame %d: %w", i, err)
		}
		prevJSON, err := json.Marshal(m.PrevFrame)
		if err != nil {
			return fmt.Errorf("failed to encode prev frame %d: %w", i, err)
		}
		_, err = stmt.Exec(
			sessionID, next+i,
			m.AngularRate[0], m.AngularRate[1], m.AngularRate[2],
			m.SpecificForce[0], m.SpecificForce[1], m.SpecificForce[2],
			m.DT, m.RateStdDev[0], m.RateStdDev[1], m.RateStdDev[2],
			string(frameJSON), string(prevJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to insert measurement %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Measurements loads a session's measurements in sequence order.
func (db *DB) Measurements(sessionID string) ([]gyrocal.Measurement, error) {
	rows, err := db.Query(`
		SELECT rate_x, rate_y, rate_z,
		       force_x, force_y, force_z,
		       dt, std_x, std_y, std_z,
		       frame_json, prev_frame_json
		FROM measurements WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	var measurements []gyrocal.Measurement
	for rows.Next() {
		var m gyrocal.Measurement
		var frameJSON, prevJSON string
		err := rows.Scan(
			&m.AngularRate[0], &m.AngularRate[1], &m.AngularRate[2],
			&m.SpecificForce[0], &m.SpecificForce[1], &m.SpecificForce[2],
			&m.DT, &m.RateStdDev[0], &m.RateStdDev[1], &m.RateStdDev[2],
			&frameJSON, &prevJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		if err := json.Unmarshal([]byte(frameJSON), &m.Frame); err != nil {
			return nil, fmt.Errorf("failed to decode frame: %w", err)
		}
		if err := json.Unmarshal([]byte(prevJSON), &m.PrevFrame); err != nil {
			return nil, fmt.Errorf("failed to decode prev frame: %w", err)
		}
		measurements = append(measurements, m)
	}
	return measurements, rows.Err()
}

// RecordRun stores the outcome of an estimation run and returns the run ID.
// Model may be nil for a failed run; the params snapshot is stored either
// way so failures remain diagnosable.
func (db *DB) RecordRun(sessionID string, params RunParams, model *gyrocal.Model, inliers *gyrocal.Inliers, iterations int) (string, error) {
	id := uuid.New().String()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode run params: %w", err)
	}

	var mgJSON, ggJSON, covJSON, mask sql.NullString
	var mse, chiSq sql.NullFloat64
	var numInliers sql.NullInt64
	if model != nil {
		if mgJSON.String, err = denseToJSON(model.Mg); err != nil {
			return "", fmt.Errorf("failed to encode Mg: %w", err)
		}
		if ggJSON.String, err = denseToJSON(model.Gg); err != nil {
			return "", fmt.Errorf("failed to encode Gg: %w", err)
		}
		mgJSON.Valid, ggJSON.Valid = true, true
		if model.Covariance != nil {
			if covJSON.String, err = denseToJSON(model.Covariance); err != nil {
				return "", fmt.Errorf("failed to encode covariance: %w", err)
			}
			covJSON.Valid = true
		}
		mse = sql.NullFloat64{Float64: model.MSE, Valid: true}
		chiSq = sql.NullFloat64{Float64: model.ChiSq, Valid: true}
	}
	if inliers != nil {
		mask = sql.NullString{String: maskToString(inliers.Mask), Valid: true}
		numInliers = sql.NullInt64{Int64: int64(inliers.NumInliers), Valid: true}
	}

	_, err = db.Exec(`
		INSERT INTO runs (
			id, session_id, method, params_json,
			mg_json, gg_json, cov_json, mse, chi_sq,
			inlier_mask, num_inliers, iterations
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, params.Method, string(paramsJSON),
		mgJSON, ggJSON, covJSON, mse, chiSq,
		mask, numInliers, iterations,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// Runs returns all runs for a session, newest first.
func (db *DB) Runs(sessionID string) ([]Run, error) {
	rows, err := db.Query(`
		SELECT id, session_id, method, params_json,
		       mg_json, gg_json, cov_json, mse, chi_sq,
		       inlier_mask, num_inliers, iterations, created_at
		FROM runs WHERE session_id = ? ORDER BY created_at DESC, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var mgJSON, ggJSON, covJSON, mask sql.NullString
		var mse, chiSq sql.NullFloat64
		var numInliers, iterations sql.NullInt64
		err := rows.Scan(
			&r.ID, &r.SessionID, &r.Method, &r.Params,
			&mgJSON, &ggJSON, &covJSON, &mse, &chiSq,
			&mask, &numInliers, &iterations, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if mgJSON.Valid && ggJSON.Valid {
			mg, err := denseFromJSON(mgJSON.String)
			if err != nil {
				return nil, fmt.Errorf("failed to decode Mg: %w", err)
			}
			gg, err := denseFromJSON(ggJSON.String)
			if err != nil {
				return nil, fmt.Errorf("failed to decode Gg: %w", err)
			}
			r.Model = &gyrocal.Model{Mg: mg, Gg: gg, MSE: mse.Float64, ChiSq: chiSq.Float64}
			if covJSON.Valid {
				if r.Model.Covariance, err = denseFromJSON(covJSON.String); err != nil {
					return nil, fmt.Errorf("failed to decode covariance: %w", err)
				}
			}
		}
		if mask.Valid {
			r.InlierMask = maskFromString(mask.String)
		}
		r.NumInliers = int(numInliers.Int64)
		r.Iterations = int(iterations.Int64)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func denseToJSON(d *mat.Dense) (string, error) {
	r, c := d.Dims()
	rowsOut := make([][]float64, r)
	for i := 0; i < r; i++ {
		rowsOut[i] = make([]float64, c)
		for j := 0; j < c; j++ {
			rowsOut[i][j] = d.At(i, j)
		}
	}
	b, err := json.Marshal(rowsOut)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func denseFromJSON(s string) (*mat.Dense, error) {
	var rowsIn [][]float64
	if err := json.Unmarshal([]byte(s), &rowsIn); err != nil {
		return nil, err
	}
	if len(rowsIn) == 0 || len(rowsIn[0]) == 0 {
		return nil, fmt.Errorf("empty matrix")
	}
	r, c := len(rowsIn), len(rowsIn[0])
	d := mat.NewDense(r, c, nil)
	for i, row := range rowsIn {
		if len(row) != c {
			return nil, fmt.Errorf("ragged matrix row %d", i)
		}
		d.SetRow(i, row)
	}
	return d, nil
}

func maskToString(mask []bool) string {
	b := make([]byte, len(mask))
	for i, in := range mask {
		if in {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}

func maskFromString(s string) []bool {
	mask := make([]bool, len(s))
	for i := range s {
		mask[i] = s[i] == '1'
	}
	return mask
}
