package db

import (
	"fmt"

	"github.com/zulandar/yardcap/internal/config"
	"github.com/zulandar/yardcap/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Node{},
		&models.Track{},
		&models.Wagon{},
		&models.Movement{},
		&models.MovementWagon{},
		&models.MovementEvent{},
		&models.Restriction{},
		&models.RestrictionTrack{},
		&models.DailyRestriction{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedNodes upserts Node and Track rows from configuration. Existing tracks
// keep their id; their length and node are updated.
func SeedNodes(db *gorm.DB, nodes []config.NodeConfig) error {
	for _, nc := range nodes {
		node := models.Node{Name: nc.Name}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&node).Error; err != nil {
			return fmt.Errorf("db: seed node %q: %w", nc.Name, err)
		}
		if err := db.Where("name = ?", nc.Name).First(&node).Error; err != nil {
			return fmt.Errorf("db: reload node %q: %w", nc.Name, err)
		}

		for _, tc := range nc.Tracks {
			nodeID := node.ID
			track := models.Track{
				Name:   tc.Name,
				NodeID: &nodeID,
				Length: tc.Length,
			}
			result := db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"node_id", "length", "updated_at"}),
			}).Create(&track)
			if result.Error != nil {
				return fmt.Errorf("db: seed track %q: %w", tc.Name, result.Error)
			}
		}
	}
	return nil
}
