package runs

import (
	"database/sql"
	"time"
)

const runColumns = "id, name, session_id, model, run_dir, status, resumed, max_epochs, epochs_done, error_message, started_at, updated_at, finished_at"

const epochColumns = "run_id, epoch, train_loss, valid_loss, train_acc1, valid_acc1, train_acc3, valid_acc3, duration_ms, recorded_at"

// timestampLayout is fixed width so stored timestamps compare as strings.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		status       string
		resumed      int64
		errorMessage sql.NullString
		startedRaw   string
		updatedRaw   string
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Name,
		&run.SessionID,
		&run.Model,
		&run.RunDir,
		&status,
		&resumed,
		&run.MaxEpochs,
		&run.EpochsDone,
		&errorMessage,
		&startedRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	run.Resumed = resumed != 0
	run.ErrorMessage = errorMessage.String
	run.StartedAt = parseTime(startedRaw)
	run.UpdatedAt = parseTime(updatedRaw)
	run.FinishedAt = parseNullableTime(finishedRaw)
	return &run, nil
}

func scanEpoch(scanner interface{ Scan(dest ...any) error }) (EpochStat, error) {
	var (
		stat        EpochStat
		metrics     [6]sql.NullFloat64
		durationMS  int64
		recordedRaw string
	)
	if err := scanner.Scan(
		&stat.RunID,
		&stat.Epoch,
		&metrics[0],
		&metrics[1],
		&metrics[2],
		&metrics[3],
		&metrics[4],
		&metrics[5],
		&durationMS,
		&recordedRaw,
	); err != nil {
		return EpochStat{}, err
	}
	stat.TrainLoss = floatPtr(metrics[0])
	stat.ValidLoss = floatPtr(metrics[1])
	stat.TrainAcc1 = floatPtr(metrics[2])
	stat.ValidAcc1 = floatPtr(metrics[3])
	stat.TrainAcc3 = floatPtr(metrics[4])
	stat.ValidAcc3 = floatPtr(metrics[5])
	stat.Duration = time.Duration(durationMS) * time.Millisecond
	stat.RecordedAt = parseTime(recordedRaw)
	return stat, nil
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t := parseTime(raw.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
