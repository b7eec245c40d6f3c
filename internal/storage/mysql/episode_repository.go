package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// EpisodeRecord 表示智能体一次提议-执行循环的落库结构。
// Args 与 Output 以序列化后的文本形式存储。
type EpisodeRecord struct {
	ID        int64
	TaskID    string
	Cycle     int64
	Command   string
	Args      string
	Thought   string
	Speak     string
	Status    string
	Output    string
	CreatedAt int64
	UpdatedAt int64
}

// EpisodeRepository 抽象回合数据的持久化接口。
type EpisodeRepository interface {
	Create(ctx context.Context, record *EpisodeRecord) error
	GetByID(ctx context.Context, id int64) (*EpisodeRecord, error)
	Update(ctx context.Context, record EpisodeRecord) error
	Delete(ctx context.Context, id int64) error
	ListLatest(ctx context.Context, limit int) ([]EpisodeRecord, error)
	ListByTask(ctx context.Context, taskID string) ([]EpisodeRecord, error)
	WithTransaction(ctx context.Context, fn func(context.Context, EpisodeRepository) error) error
}

// ErrUnsupportedDriver 在配置了未知存储驱动时返回。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// ErrEpisodeNotFound 表示目标回合记录不存在。
var ErrEpisodeNotFound = errors.New("回合记录不存在")

const memoryEpisodeCap = 512

// MemoryEpisodeRepository 使用本地 JSON 文件模拟 MySQL 的效果，方便迭代开发。
type MemoryEpisodeRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []EpisodeRecord
	nextID   int64
}

// NewMemoryEpisodeRepository 创建一个内存回合仓库。
func NewMemoryEpisodeRepository(dataDir string) (*MemoryEpisodeRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "episodes.log")
	repo := &MemoryEpisodeRepository{dataFile: path, nextID: 1}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Create 分配自增 ID 并记录回合。
func (m *MemoryEpisodeRepository) Create(_ context.Context, record *EpisodeRecord) error {
	if record == nil {
		return errors.New("回合记录不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	record.ID = m.nextID
	m.nextID++
	m.records = append([]EpisodeRecord{*record}, m.records...)
	if len(m.records) > memoryEpisodeCap {
		m.records = m.records[:memoryEpisodeCap]
	}
	return m.persistLocked()
}

// GetByID 返回指定 ID 的记录副本。
func (m *MemoryEpisodeRepository) GetByID(_ context.Context, id int64) (*EpisodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.records {
		if m.records[i].ID == id {
			record := m.records[i]
			return &record, nil
		}
	}
	return nil, ErrEpisodeNotFound
}

// Update 覆盖指定 ID 的记录。
func (m *MemoryEpisodeRepository) Update(_ context.Context, record EpisodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if m.records[i].ID == record.ID {
			m.records[i] = record
			return m.persistLocked()
		}
	}
	return ErrEpisodeNotFound
}

// Delete 删除指定 ID 的记录。
func (m *MemoryEpisodeRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if m.records[i].ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return m.persistLocked()
		}
	}
	return ErrEpisodeNotFound
}

// ListLatest 返回最近的回合记录，按创建时间倒序排列。
func (m *MemoryEpisodeRepository) ListLatest(_ context.Context, limit int) ([]EpisodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := make([]EpisodeRecord, len(m.records))
	copy(sorted, m.records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt == sorted[j].CreatedAt {
			return sorted[i].ID > sorted[j].ID
		}
		return sorted[i].CreatedAt > sorted[j].CreatedAt
	})

	if limit <= 0 || limit > len(sorted) {
		limit = len(sorted)
	}
	return sorted[:limit], nil
}

// ListByTask 返回某个任务的全部回合，按循环序号升序排列。
func (m *MemoryEpisodeRepository) ListByTask(_ context.Context, taskID string) ([]EpisodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []EpisodeRecord
	for i := range m.records {
		if m.records[i].TaskID == taskID {
			result = append(result, m.records[i])
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Cycle < result[j].Cycle })
	return result, nil
}

// WithTransaction 在内存实现中直接串行执行，保持接口一致。
func (m *MemoryEpisodeRepository) WithTransaction(ctx context.Context, fn func(context.Context, EpisodeRepository) error) error {
	return fn(ctx, m)
}

func (m *MemoryEpisodeRepository) persistLocked() error {
	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("打开回合日志失败: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for i := len(m.records) - 1; i >= 0; i-- {
		encoded, err := json.Marshal(m.records[i])
		if err != nil {
			return fmt.Errorf("序列化回合记录失败: %w", err)
		}
		if _, err := writer.Write(append(encoded, '\n')); err != nil {
			return fmt.Errorf("写入回合日志失败: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("刷新回合日志失败: %w", err)
	}
	return nil
}

func (m *MemoryEpisodeRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取回合日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []EpisodeRecord
	for scanner.Scan() {
		var record EpisodeRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]EpisodeRecord{record}, restored...)
		if record.ID >= m.nextID {
			m.nextID = record.ID + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析回合日志失败: %w", err)
	}

	if len(restored) > memoryEpisodeCap {
		restored = restored[:memoryEpisodeCap]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLEpisodeRepository 使用真实的 MySQL 数据库存储回合信息。
type SQLEpisodeRepository struct {
	db *sql.DB
}

// NewSQLEpisodeRepository 创建连接池并执行缺失的迁移。
func NewSQLEpisodeRepository(ctx context.Context, cfg Config) (*SQLEpisodeRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := &SQLEpisodeRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const insertEpisodeSQL = `INSERT INTO agent_episodes
    (task_id, cycle, command, args, thought, speak, status, output, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updateEpisodeSQL = `UPDATE agent_episodes SET task_id = ?, cycle = ?, command = ?, args = ?, thought = ?, speak = ?, status = ?, output = ?, created_at = ?, updated_at = ?
    WHERE id = ?`

const episodeColumns = `id, task_id, cycle, command, args, thought, speak, status, output, created_at, updated_at`

// Create 写入回合并回填自增 ID。
func (s *SQLEpisodeRepository) Create(ctx context.Context, record *EpisodeRecord) error {
	return createEpisode(ctx, s.db, record)
}

// GetByID 查询指定 ID 的回合。
func (s *SQLEpisodeRepository) GetByID(ctx context.Context, id int64) (*EpisodeRecord, error) {
	return getEpisodeByID(ctx, s.db, id)
}

// Update 覆盖指定 ID 的回合。
func (s *SQLEpisodeRepository) Update(ctx context.Context, record EpisodeRecord) error {
	return updateEpisode(ctx, s.db, record)
}

// Delete 删除指定 ID 的回合。
func (s *SQLEpisodeRepository) Delete(ctx context.Context, id int64) error {
	return deleteEpisode(ctx, s.db, id)
}

// ListLatest 查询最近的若干条回合记录。
func (s *SQLEpisodeRepository) ListLatest(ctx context.Context, limit int) ([]EpisodeRecord, error) {
	return listLatestEpisodes(ctx, s.db, limit)
}

// ListByTask 查询某个任务的全部回合。
func (s *SQLEpisodeRepository) ListByTask(ctx context.Context, taskID string) ([]EpisodeRecord, error) {
	return listEpisodesByTask(ctx, s.db, taskID)
}

// WithTransaction 在单个事务内执行 fn，出错时回滚。
func (s *SQLEpisodeRepository) WithTransaction(ctx context.Context, fn func(context.Context, EpisodeRepository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	if err := fn(ctx, &txEpisodeRepository{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *SQLEpisodeRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// txEpisodeRepository 在已开启的事务上复用同一套查询。
type txEpisodeRepository struct {
	tx *sql.Tx
}

func (t *txEpisodeRepository) Create(ctx context.Context, record *EpisodeRecord) error {
	return createEpisode(ctx, t.tx, record)
}

func (t *txEpisodeRepository) GetByID(ctx context.Context, id int64) (*EpisodeRecord, error) {
	return getEpisodeByID(ctx, t.tx, id)
}

func (t *txEpisodeRepository) Update(ctx context.Context, record EpisodeRecord) error {
	return updateEpisode(ctx, t.tx, record)
}

func (t *txEpisodeRepository) Delete(ctx context.Context, id int64) error {
	return deleteEpisode(ctx, t.tx, id)
}

func (t *txEpisodeRepository) ListLatest(ctx context.Context, limit int) ([]EpisodeRecord, error) {
	return listLatestEpisodes(ctx, t.tx, limit)
}

func (t *txEpisodeRepository) ListByTask(ctx context.Context, taskID string) ([]EpisodeRecord, error) {
	return listEpisodesByTask(ctx, t.tx, taskID)
}

// WithTransaction 嵌套调用时复用当前事务。
func (t *txEpisodeRepository) WithTransaction(ctx context.Context, fn func(context.Context, EpisodeRepository) error) error {
	return fn(ctx, t)
}

func createEpisode(ctx context.Context, runner sqlRunner, record *EpisodeRecord) error {
	if record == nil {
		return errors.New("回合记录不能为空")
	}
	res, err := runner.ExecContext(ctx, insertEpisodeSQL,
		record.TaskID,
		record.Cycle,
		record.Command,
		record.Args,
		record.Thought,
		record.Speak,
		record.Status,
		record.Output,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入回合记录失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("获取回合记录 ID 失败: %w", err)
	}
	record.ID = id
	return nil
}

func getEpisodeByID(ctx context.Context, runner sqlRunner, id int64) (*EpisodeRecord, error) {
	row := runner.QueryRowContext(ctx, `SELECT `+episodeColumns+`
    FROM agent_episodes WHERE id = ?`, id)
	record, err := scanEpisode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEpisodeNotFound
		}
		return nil, fmt.Errorf("查询回合记录失败: %w", err)
	}
	return record, nil
}

func updateEpisode(ctx context.Context, runner sqlRunner, record EpisodeRecord) error {
	res, err := runner.ExecContext(ctx, updateEpisodeSQL,
		record.TaskID,
		record.Cycle,
		record.Command,
		record.Args,
		record.Thought,
		record.Speak,
		record.Status,
		record.Output,
		record.CreatedAt,
		record.UpdatedAt,
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("更新回合记录失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("确认更新结果失败: %w", err)
	}
	if affected == 0 {
		return ErrEpisodeNotFound
	}
	return nil
}

func deleteEpisode(ctx context.Context, runner sqlRunner, id int64) error {
	res, err := runner.ExecContext(ctx, `DELETE FROM agent_episodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("删除回合记录失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("确认删除结果失败: %w", err)
	}
	if affected == 0 {
		return ErrEpisodeNotFound
	}
	return nil
}

func listLatestEpisodes(ctx context.Context, runner sqlRunner, limit int) ([]EpisodeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := runner.QueryContext(ctx, `SELECT `+episodeColumns+`
    FROM agent_episodes ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询回合记录失败: %w", err)
	}
	defer rows.Close()
	return collectEpisodes(rows)
}

func listEpisodesByTask(ctx context.Context, runner sqlRunner, taskID string) ([]EpisodeRecord, error) {
	rows, err := runner.QueryContext(ctx, `SELECT `+episodeColumns+`
    FROM agent_episodes WHERE task_id = ? ORDER BY cycle ASC, id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("查询任务回合失败: %w", err)
	}
	defer rows.Close()
	return collectEpisodes(rows)
}

func collectEpisodes(rows *sql.Rows) ([]EpisodeRecord, error) {
	var records []EpisodeRecord
	for rows.Next() {
		record, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("解析回合记录失败: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历回合记录失败: %w", err)
	}
	return records, nil
}

func scanEpisode(scanner interface{ Scan(...any) error }) (*EpisodeRecord, error) {
	var record EpisodeRecord
	if err := scanner.Scan(
		&record.ID,
		&record.TaskID,
		&record.Cycle,
		&record.Command,
		&record.Args,
		&record.Thought,
		&record.Speak,
		&record.Status,
		&record.Output,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &record, nil
}
