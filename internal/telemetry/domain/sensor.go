package telemetry

import (
	"context"
	"time"
)

// SensorFeed is an archived raw collar sample pushed by a gateway.
type SensorFeed struct {
	ID        string    `json:"id"`
	CollarID  string    `json:"collar_id"`
	Location  string    `json:"location,omitempty"`
	AccelX    *float64  `json:"accel_x,omitempty"`
	AccelY    *float64  `json:"accel_y,omitempty"`
	AccelZ    *float64  `json:"accel_z,omitempty"`
	GyroX     *float64  `json:"gyro_x,omitempty"`
	GyroY     *float64  `json:"gyro_y,omitempty"`
	GyroZ     *float64  `json:"gyro_z,omitempty"`
	Behaviour string    `json:"behaviour,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ToRawFeed converts an archived sample into the upstream feed shape.
func (s SensorFeed) ToRawFeed() RawFeed {
	return RawFeed{
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339Nano),
		Field1:    s.Location,
		Field2:    s.CollarID,
		Field4:    s.Behaviour,
		Field5:    s.Status,
	}
}

// SensorRepository persists archived sensor samples.
type SensorRepository interface {
	Insert(ctx context.Context, feed *SensorFeed) error
	List(ctx context.Context, collarID string, limit int) ([]SensorFeed, error)
	Delete(ctx context.Context, id string) (bool, error)
}
