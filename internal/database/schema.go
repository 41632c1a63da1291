package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables the reservation store reads and writes.
// Rooms and rate plans are owned by the property catalogue; only the
// columns the state machine needs are declared here.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS rate_plans (
		id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		room_type_id BIGINT UNSIGNED NOT NULL,
		nightly_rate DECIMAL(15,2)   NOT NULL,
		currency     CHAR(3)         NOT NULL,
		KEY idx_rate_plans_room_type (room_type_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS rooms (
		id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		property_id  BIGINT UNSIGNED NOT NULL,
		room_type_id BIGINT UNSIGNED NOT NULL,
		number       VARCHAR(16)     NOT NULL,
		UNIQUE KEY uq_rooms_property_number (property_id, number)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS reservations (
		id                BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		property_id       BIGINT UNSIGNED NOT NULL,
		guest_id          BIGINT UNSIGNED NOT NULL,
		room_type_id      BIGINT UNSIGNED NOT NULL,
		rate_plan_id      BIGINT UNSIGNED NOT NULL,
		assigned_room_id  BIGINT UNSIGNED NULL,
		check_in          DATE            NOT NULL,
		check_out         DATE            NOT NULL,
		adults            INT             NOT NULL,
		children          INT             NOT NULL DEFAULT 0,
		status            ENUM('pending','confirmed','checked_in','checked_out','cancelled','no_show') NOT NULL,
		payment_status    ENUM('unpaid','partial','paid','refunded') NOT NULL,
		base_amount       DECIMAL(15,2)   NOT NULL DEFAULT 0,
		total_amount      DECIMAL(15,2)   NOT NULL DEFAULT 0,
		tax_amount        DECIMAL(15,2)   NOT NULL DEFAULT 0,
		discount_amount   DECIMAL(15,2)   NOT NULL DEFAULT 0,
		service_amount    DECIMAL(15,2)   NOT NULL DEFAULT 0,
		amount_paid       DECIMAL(15,2)   NOT NULL DEFAULT 0,
		currency          CHAR(3)         NOT NULL,
		confirmation_code CHAR(9)         NOT NULL,
		service_underflow BOOLEAN         NOT NULL DEFAULT FALSE,
		order_code        VARCHAR(64)     NULL,
		check_in_time     DATETIME        NULL,
		check_out_time    DATETIME        NULL,
		version           BIGINT          NOT NULL DEFAULT 1,
		created_at        DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at        DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_reservations_confirmation_code (confirmation_code),
		UNIQUE KEY uq_reservations_order_code (order_code),
		KEY idx_reservations_room_stay (assigned_room_id, status, check_in, check_out),
		CONSTRAINT chk_reservations_dates CHECK (check_in < check_out),
		CONSTRAINT fk_reservations_room FOREIGN KEY (assigned_room_id) REFERENCES rooms (id),
		CONSTRAINT fk_reservations_rate_plan FOREIGN KEY (rate_plan_id) REFERENCES rate_plans (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates missing tables. It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
