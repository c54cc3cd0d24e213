package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/clipforge/clipforge/internal/db"
)

// Repository is the persistence contract for videos, clips, tasks and search
// indexes. Methods that change a task together with its subject entity run
// in a single transaction so readers never see one without the other.
type Repository interface {
	CreateVideoWithTask(ctx context.Context, v *Video, t *Task) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context, ownerID string) ([]*Video, error)
	SetVideoSource(ctx context.Context, id, sourceKey string) error

	InsertClip(ctx context.Context, c *Clip) error
	GetClip(ctx context.Context, id string) (*Clip, error)
	ListClips(ctx context.Context, videoID string) ([]*Clip, error)
	ListClipsByOwner(ctx context.Context, ownerID string) ([]*Clip, error)

	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ActiveTask(ctx context.Context, kind TaskKind, subjectID string) (*Task, error)
	TransitionTask(ctx context.Context, id string, to TaskStatus, msg string) error
	ListTasks(ctx context.Context, f TaskFilter) ([]*Task, error)

	StartExtraction(ctx context.Context, taskID string) (*Video, error)
	CompleteExtraction(ctx context.Context, taskID, videoID string) error
	FailExtraction(ctx context.Context, taskID, videoID, msg string) error

	BeginConversion(ctx context.Context, clipID, layout string) (*Task, *Clip, error)
	StartConversion(ctx context.Context, taskID string) (*Task, error)
	CompleteConversion(ctx context.Context, taskID, clipID, shortsKey, layout string) error
	FailConversion(ctx context.Context, taskID, clipID, msg string) error

	SaveSearchIndex(ctx context.Context, idx *SearchIndex) error
	LoadSearchIndex(ctx context.Context, videoID string) (*SearchIndex, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

type SQLRepository struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

func NewRepository(conn *sql.DB, dialect db.Dialect) *SQLRepository {
	return &SQLRepository{db: conn, dialect: dialect, now: time.Now}
}

const (
	videoColumns = `id, owner_id, filename, source_url, source_key, status, task_id, error, created_at, updated_at`
	clipColumns  = `id, video_id, position, filename, storage_key, shorts_key, layout, reason, hook_type, virality_score, start_s, end_s, conversion_status, created_at, updated_at`
	taskColumns  = `id, kind, subject_id, status, params, error, created_at, updated_at`
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (r *SQLRepository) q(query string) string {
	return db.Rebind(r.dialect, query)
}

func (r *SQLRepository) stamp() string {
	return db.FormatTime(r.now())
}

func (r *SQLRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ---- videos ----

func (r *SQLRepository) CreateVideoWithTask(ctx context.Context, v *Video, t *Task) error {
	now := r.now()
	v.CreatedAt, v.UpdatedAt = now, now
	t.CreatedAt, t.UpdatedAt = now, now
	v.TaskID = t.ID
	t.SubjectID = v.ID

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.insertTask(ctx, tx, t); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, r.q(`
			INSERT INTO videos (`+videoColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), v.ID, v.OwnerID, v.Filename, nullString(v.SourceURL), nullString(v.SourceKey), string(v.Status),
			v.TaskID, nullString(v.Error), db.FormatTime(now), db.FormatTime(now))
		if err != nil {
			return fmt.Errorf("insert video: %w", err)
		}
		return nil
	})
}

func (r *SQLRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+videoColumns+` FROM videos WHERE id = ?`), id)
	return scanVideo(row)
}

func (r *SQLRepository) ListVideos(ctx context.Context, ownerID string) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+videoColumns+` FROM videos WHERE owner_id = ? ORDER BY created_at DESC, id
	`), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *SQLRepository) SetVideoSource(ctx context.Context, id, sourceKey string) error {
	res, err := r.db.ExecContext(ctx, r.q(`UPDATE videos SET source_key = ?, updated_at = ? WHERE id = ?`),
		sourceKey, r.stamp(), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func scanVideo(row scanner) (*Video, error) {
	var v Video
	var sourceURL, sourceKey, taskID, errMsg sql.NullString
	var status, createdAt, updatedAt string

	err := row.Scan(&v.ID, &v.OwnerID, &v.Filename, &sourceURL, &sourceKey, &status, &taskID, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.SourceURL = sourceURL.String
	v.SourceKey = sourceKey.String
	v.Status = VideoStatus(status)
	v.TaskID = taskID.String
	v.Error = errMsg.String
	v.CreatedAt = db.ParseTime(createdAt)
	v.UpdatedAt = db.ParseTime(updatedAt)
	return &v, nil
}

// ---- clips ----

func (r *SQLRepository) InsertClip(ctx context.Context, c *Clip) error {
	now := r.now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.ConversionStatus == "" {
		c.ConversionStatus = ConversionNone
	}
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO clips (`+clipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), c.ID, c.VideoID, c.Position, c.Filename, c.StorageKey, nullString(c.ShortsKey), nullString(c.Layout),
		c.Reason, nullString(c.HookType), nullFloat(c.ViralityScore), c.Start, c.End, string(c.ConversionStatus),
		db.FormatTime(now), db.FormatTime(now))
	if err != nil {
		return fmt.Errorf("insert clip: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+clipColumns+` FROM clips WHERE id = ?`), id)
	return scanClip(row)
}

func (r *SQLRepository) ListClips(ctx context.Context, videoID string) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+clipColumns+` FROM clips WHERE video_id = ? ORDER BY position
	`), videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClips(rows)
}

func (r *SQLRepository) ListClipsByOwner(ctx context.Context, ownerID string) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT `+prefixed("c.", clipColumns)+`
		FROM clips c JOIN videos v ON v.id = c.video_id
		WHERE v.owner_id = ?
		ORDER BY c.video_id, c.position
	`), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClips(rows)
}

func scanClips(rows *sql.Rows) ([]*Clip, error) {
	var clips []*Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func scanClip(row scanner) (*Clip, error) {
	var c Clip
	var shortsKey, layout, hookType sql.NullString
	var virality sql.NullFloat64
	var status, createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.VideoID, &c.Position, &c.Filename, &c.StorageKey, &shortsKey, &layout, &c.Reason,
		&hookType, &virality, &c.Start, &c.End, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ShortsKey = shortsKey.String
	c.Layout = layout.String
	c.HookType = hookType.String
	c.ViralityScore = virality.Float64
	c.ConversionStatus = ConversionStatus(status)
	c.CreatedAt = db.ParseTime(createdAt)
	c.UpdatedAt = db.ParseTime(updatedAt)
	return &c, nil
}

// ---- tasks ----

func (r *SQLRepository) CreateTask(ctx context.Context, t *Task) error {
	now := r.now()
	t.CreatedAt, t.UpdatedAt = now, now
	return r.insertTask(ctx, r.db, t)
}

func (r *SQLRepository) insertTask(ctx context.Context, ex execer, t *Task) error {
	if t.Status == "" {
		t.Status = TaskPending
	}
	_, err := ex.ExecContext(ctx, r.q(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID, string(t.Kind), t.SubjectID, string(t.Status), nullString(t.Params), nullString(t.Error),
		db.FormatTime(t.CreatedAt), db.FormatTime(t.UpdatedAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetTask(ctx context.Context, id string) (*Task, error) {
	return r.getTask(ctx, r.db, id)
}

func (r *SQLRepository) getTask(ctx context.Context, ex execer, id string) (*Task, error) {
	row := ex.QueryRowContext(ctx, r.q(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	return scanTask(row)
}

func (r *SQLRepository) ActiveTask(ctx context.Context, kind TaskKind, subjectID string) (*Task, error) {
	return r.activeTask(ctx, r.db, kind, subjectID)
}

func (r *SQLRepository) activeTask(ctx context.Context, ex execer, kind TaskKind, subjectID string) (*Task, error) {
	row := ex.QueryRowContext(ctx, r.q(`
		SELECT `+taskColumns+` FROM tasks
		WHERE kind = ? AND subject_id = ? AND status IN ('PENDING', 'STARTED')
	`), string(kind), subjectID)
	return scanTask(row)
}

// TransitionTask is a compare-and-set: the update only applies when the
// current status is a legal predecessor of to.
func (r *SQLRepository) TransitionTask(ctx context.Context, id string, to TaskStatus, msg string) error {
	return r.transition(ctx, r.db, id, "", to, msg)
}

func (r *SQLRepository) transition(ctx context.Context, ex execer, id string, kind TaskKind, to TaskStatus, msg string) error {
	from := allowedFrom[to]
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing transitions to %s", ErrInvalidTransition, to)
	}

	query := `UPDATE tasks SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	args := []interface{}{string(to), nullString(msg), r.stamp(), id}
	for _, s := range from {
		args = append(args, string(s))
	}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}

	res, err := ex.ExecContext(ctx, r.q(query), args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	current, err := r.getTask(ctx, ex, id)
	if err != nil {
		return err
	}
	if kind != "" && current.Kind != kind {
		return fmt.Errorf("%w: task %s is %s, not %s", ErrInvalidTransition, id, current.Kind, kind)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
}

func (r *SQLRepository) ListTasks(ctx context.Context, f TaskFilter) ([]*Task, error) {
	var where []string
	var args []interface{}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if !f.UpdatedBefore.IsZero() {
		where = append(where, "updated_at < ?")
		args = append(args, db.FormatTime(f.UpdatedBefore))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row scanner) (*Task, error) {
	var t Task
	var kind, status, createdAt, updatedAt string
	var params, errMsg sql.NullString

	err := row.Scan(&t.ID, &kind, &t.SubjectID, &status, &params, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Kind = TaskKind(kind)
	t.Status = TaskStatus(status)
	t.Params = params.String
	t.Error = errMsg.String
	t.CreatedAt = db.ParseTime(createdAt)
	t.UpdatedAt = db.ParseTime(updatedAt)
	return &t, nil
}

// ---- extraction ----

// StartExtraction moves the task PENDING -> STARTED and its video
// QUEUED -> PROCESSING. It fails with ErrInvalidTransition when the task was
// already picked up, which makes redelivered jobs no-ops.
func (r *SQLRepository) StartExtraction(ctx context.Context, taskID string) (*Video, error) {
	var video *Video
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.transition(ctx, tx, taskID, TaskExtraction, TaskStarted, ""); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.q(`
			UPDATE videos SET status = ?, updated_at = ? WHERE task_id = ? AND status = ?
		`), string(VideoProcessing), r.stamp(), taskID, string(VideoQueued)); err != nil {
			return fmt.Errorf("update video: %w", err)
		}
		v, err := scanVideo(tx.QueryRowContext(ctx, r.q(`SELECT `+videoColumns+` FROM videos WHERE task_id = ?`), taskID))
		if err != nil {
			return err
		}
		video = v
		return nil
	})
	return video, err
}

func (r *SQLRepository) CompleteExtraction(ctx context.Context, taskID, videoID string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.transition(ctx, tx, taskID, TaskExtraction, TaskSuccess, ""); err != nil {
			return err
		}
		return r.setVideoStatus(ctx, tx, videoID, VideoCompleted, "")
	})
}

func (r *SQLRepository) FailExtraction(ctx context.Context, taskID, videoID, msg string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.transition(ctx, tx, taskID, TaskExtraction, TaskFailure, msg); err != nil {
			return err
		}
		return r.setVideoStatus(ctx, tx, videoID, VideoFailed, msg)
	})
}

func (r *SQLRepository) setVideoStatus(ctx context.Context, tx *sql.Tx, videoID string, status VideoStatus, msg string) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE videos SET status = ?, error = ?, updated_at = ? WHERE id = ?`),
		string(status), nullString(msg), r.stamp(), videoID)
	if err != nil {
		return fmt.Errorf("update video: %w", err)
	}
	return expectOne(res)
}

// ---- conversion ----

// BeginConversion atomically claims the clip's conversion slot. It returns:
//   - (nil, clip, nil) when the clip is already READY;
//   - (active, clip, ErrConflict) when a conversion is already in flight;
//   - (task, clip, nil) when a new PENDING task was created and the clip
//     moved to PROCESSING.
func (r *SQLRepository) BeginConversion(ctx context.Context, clipID, layout string) (*Task, *Clip, error) {
	var task *Task
	var clip *Clip

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		c, err := scanClip(tx.QueryRowContext(ctx, r.q(`SELECT `+clipColumns+` FROM clips WHERE id = ?`), clipID))
		if err != nil {
			return err
		}
		clip = c
		if c.ConversionStatus == ConversionReady {
			return nil
		}

		active, err := r.activeTask(ctx, tx, TaskConversion, clipID)
		if err == nil {
			task = active
			return ErrConflict
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		now := r.now()
		t := &Task{
			ID:        NewID(),
			Kind:      TaskConversion,
			SubjectID: clipID,
			Status:    TaskPending,
			Params:    layout,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.insertTask(ctx, tx, t); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.q(`
			UPDATE clips SET conversion_status = ?, updated_at = ? WHERE id = ? AND conversion_status = ?
		`), string(ConversionProcessing), db.FormatTime(now), clipID, string(ConversionNone)); err != nil {
			return fmt.Errorf("update clip: %w", err)
		}
		clip.ConversionStatus = ConversionProcessing
		task = t
		return nil
	})

	if errors.Is(err, ErrConflict) && task == nil {
		// lost the race on the unique index; report the winner
		if active, aerr := r.ActiveTask(ctx, TaskConversion, clipID); aerr == nil {
			task = active
		}
	}
	if err != nil && !errors.Is(err, ErrConflict) {
		return nil, nil, err
	}
	return task, clip, err
}

func (r *SQLRepository) StartConversion(ctx context.Context, taskID string) (*Task, error) {
	var task *Task
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.transition(ctx, tx, taskID, TaskConversion, TaskStarted, ""); err != nil {
			return err
		}
		t, err := r.getTask(ctx, tx, taskID)
		task = t
		return err
	})
	return task, err
}

func (r *SQLRepository) CompleteConversion(ctx context.Context, taskID, clipID, shortsKey, layout string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.transition(ctx, tx, taskID, TaskConversion, TaskSuccess, ""); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, r.q(`
			UPDATE clips SET shorts_key = ?, layout = ?, conversion_status = ?, updated_at = ? WHERE id = ?
		`), shortsKey, nullString(layout), string(ConversionReady), r.stamp(), clipID)
		if err != nil {
			return fmt.Errorf("update clip: %w", err)
		}
		return expectOne(res)
	})
}

func (r *SQLRepository) FailConversion(ctx context.Context, taskID, clipID, msg string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.transition(ctx, tx, taskID, TaskConversion, TaskFailure, msg); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, r.q(`
			UPDATE clips SET conversion_status = ?, updated_at = ? WHERE id = ? AND conversion_status = ?
		`), string(ConversionNone), r.stamp(), clipID, string(ConversionProcessing))
		if err != nil {
			return fmt.Errorf("update clip: %w", err)
		}
		return nil
	})
}

// ---- search index ----

func (r *SQLRepository) SaveSearchIndex(ctx context.Context, idx *SearchIndex) error {
	if idx.CreatedAt.IsZero() {
		idx.CreatedAt = r.now()
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, r.q(`
			INSERT INTO search_indexes (video_id, model, dims, segment_count, created_at)
			VALUES (?, ?, ?, ?, ?)
		`), idx.VideoID, idx.Model, idx.Dims, len(idx.Segments), db.FormatTime(idx.CreatedAt))
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert search index: %w", err)
		}

		for _, s := range idx.Segments {
			vec, err := json.Marshal(s.Embedding)
			if err != nil {
				return fmt.Errorf("encode embedding: %w", err)
			}
			if _, err := tx.ExecContext(ctx, r.q(`
				INSERT INTO search_segments (video_id, position, start_s, end_s, text, embedding)
				VALUES (?, ?, ?, ?, ?, ?)
			`), idx.VideoID, s.Position, s.Start, s.End, s.Text, string(vec)); err != nil {
				return fmt.Errorf("insert search segment: %w", err)
			}
		}
		return nil
	})
}

func (r *SQLRepository) LoadSearchIndex(ctx context.Context, videoID string) (*SearchIndex, error) {
	idx := &SearchIndex{VideoID: videoID}
	var createdAt string
	err := r.db.QueryRowContext(ctx, r.q(`
		SELECT model, dims, created_at FROM search_indexes WHERE video_id = ?
	`), videoID).Scan(&idx.Model, &idx.Dims, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotIndexed
	}
	if err != nil {
		return nil, err
	}
	idx.CreatedAt = db.ParseTime(createdAt)

	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT position, start_s, end_s, text, embedding FROM search_segments
		WHERE video_id = ? ORDER BY position
	`), videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s SearchSegment
		var vec string
		if err := rows.Scan(&s.Position, &s.Start, &s.End, &s.Text, &vec); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(vec), &s.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding for segment %d: %w", s.Position, err)
		}
		idx.Segments = append(idx.Segments, s)
	}
	return idx, rows.Err()
}

// ---- settings ----

func (r *SQLRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, r.q("SELECT value FROM settings WHERE key = ?"), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`), key, value)
	return err
}

// ---- helpers ----

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
