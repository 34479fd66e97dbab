// Package yard provides the registry of nodes, tracks and wagons.
package yard

import (
	"errors"
	"fmt"

	"github.com/zulandar/yardcap/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrTrackNotFound is returned for an unknown track id or name.
	ErrTrackNotFound = errors.New("yard: track not found")
	// ErrNodeNotFound is returned for an unknown node name.
	ErrNodeNotFound = errors.New("yard: node not found")
)

// TrackOpts holds parameters for creating a track.
type TrackOpts struct {
	Name   string
	Node   string // optional node name
	Length int    // 0 = unlimited
}

// CreateNode creates a node.
func CreateNode(db *gorm.DB, name string) (*models.Node, error) {
	if name == "" {
		return nil, fmt.Errorf("yard: node name is required")
	}
	n := models.Node{Name: name}
	if err := db.Create(&n).Error; err != nil {
		return nil, fmt.Errorf("yard: create node %s: %w", name, err)
	}
	return &n, nil
}

// ListNodes returns every node with its tracks.
func ListNodes(db *gorm.DB) ([]models.Node, error) {
	var nodes []models.Node
	if err := db.Preload("Tracks", func(db *gorm.DB) *gorm.DB {
		return db.Order("name ASC")
	}).Order("name ASC").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("yard: list nodes: %w", err)
	}
	return nodes, nil
}

// CreateTrack creates a track, optionally inside a node.
func CreateTrack(db *gorm.DB, opts TrackOpts) (*models.Track, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("yard: track name is required")
	}
	if opts.Length < 0 {
		return nil, fmt.Errorf("yard: track length must not be negative, got %d", opts.Length)
	}
	tr := models.Track{Name: opts.Name, Length: opts.Length}
	if opts.Node != "" {
		var n models.Node
		if err := db.Where("name = ?", opts.Node).First(&n).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, opts.Node)
			}
			return nil, fmt.Errorf("yard: load node %s: %w", opts.Node, err)
		}
		tr.NodeID = &n.ID
	}
	if err := db.Create(&tr).Error; err != nil {
		return nil, fmt.Errorf("yard: create track %s: %w", opts.Name, err)
	}
	return &tr, nil
}

// GetTrack returns a track by id.
func GetTrack(db *gorm.DB, id uint) (*models.Track, error) {
	var tr models.Track
	if err := db.First(&tr, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrTrackNotFound, id)
		}
		return nil, fmt.Errorf("yard: get track %d: %w", id, err)
	}
	return &tr, nil
}

// TrackByName returns a track by its unique name.
func TrackByName(db *gorm.DB, name string) (*models.Track, error) {
	var tr models.Track
	if err := db.Where("name = ?", name).First(&tr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, name)
		}
		return nil, fmt.Errorf("yard: get track %s: %w", name, err)
	}
	return &tr, nil
}

// ListTracks returns tracks ordered by name. A non-empty node limits the
// result to that node's tracks.
func ListTracks(db *gorm.DB, node string) ([]models.Track, error) {
	q := db.Model(&models.Track{})
	if node != "" {
		q = q.Where("node_id IN (?)", db.Model(&models.Node{}).Select("id").Where("name = ?", node))
	}
	var tracks []models.Track
	if err := q.Order("name ASC").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("yard: list tracks: %w", err)
	}
	return tracks, nil
}
