package testutil

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TestMetatypeKey describes a key definition to attach to a fixture metatype.
type TestMetatypeKey struct {
	Name         string
	PropertyName string
	DataType     string
	Required     bool
	DefaultValue string
	Options      string
}

// CreateTestContainer inserts a container row and returns its id.
func CreateTestContainer(ctx context.Context, db bun.IDB, name string) (string, error) {
	id := uuid.New().String()
	_, err := db.NewRaw(
		`INSERT INTO containers (id, name) VALUES (?, ?)`,
		id, name,
	).Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("create test container: %w", err)
	}
	return id, nil
}

// CreateTestDataSource inserts an active data source into the given container.
func CreateTestDataSource(ctx context.Context, db bun.IDB, containerID, name string) (string, error) {
	id := uuid.New().String()
	_, err := db.NewRaw(
		`INSERT INTO data_sources (id, container_id, name) VALUES (?, ?, ?)`,
		id, containerID, name,
	).Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("create test data source: %w", err)
	}
	return id, nil
}

// CreateTestMetatype inserts a metatype with the given key definitions.
func CreateTestMetatype(ctx context.Context, db bun.IDB, containerID, name string, keys ...TestMetatypeKey) (string, error) {
	id := uuid.New().String()
	_, err := db.NewRaw(
		`INSERT INTO metatypes (id, container_id, name) VALUES (?, ?, ?)`,
		id, containerID, name,
	).Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("create test metatype: %w", err)
	}
	for _, key := range keys {
		if err := insertKey(ctx, db, "metatype_keys", "metatype_id", id, key); err != nil {
			return "", err
		}
	}
	return id, nil
}

// CreateTestRelationship inserts a relationship with the given key definitions.
func CreateTestRelationship(ctx context.Context, db bun.IDB, containerID, name string, keys ...TestMetatypeKey) (string, error) {
	id := uuid.New().String()
	_, err := db.NewRaw(
		`INSERT INTO relationships (id, container_id, name) VALUES (?, ?, ?)`,
		id, containerID, name,
	).Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("create test relationship: %w", err)
	}
	for _, key := range keys {
		if err := insertKey(ctx, db, "relationship_keys", "relationship_id", id, key); err != nil {
			return "", err
		}
	}
	return id, nil
}

// CreateTestPair inserts a relationship pair between two metatypes.
// relationshipType is one of many:many, many:one, one:many, one:one.
func CreateTestPair(ctx context.Context, db bun.IDB, containerID, relationshipID, originMetatypeID, destinationMetatypeID, relationshipType string) (string, error) {
	id := uuid.New().String()
	_, err := db.NewRaw(
		`INSERT INTO relationship_pairs
			(id, container_id, name, relationship_id, origin_metatype_id, destination_metatype_id, relationship_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, containerID, "pair-"+id[:8], relationshipID, originMetatypeID, destinationMetatypeID, relationshipType,
	).Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("create test pair: %w", err)
	}
	return id, nil
}

func insertKey(ctx context.Context, db bun.IDB, table, fkColumn, ownerID string, key TestMetatypeKey) error {
	var defaultValue, options any
	if key.DefaultValue != "" {
		defaultValue = key.DefaultValue
	}
	if key.Options != "" {
		options = key.Options
	}
	_, err := db.NewRaw(
		fmt.Sprintf(
			`INSERT INTO %s (%s, name, property_name, data_type, required, default_value, options)
			 VALUES (?, ?, ?, ?, ?, ?::jsonb, ?::jsonb)`,
			table, fkColumn,
		),
		ownerID, key.Name, key.PropertyName, key.DataType, key.Required, defaultValue, options,
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("create test key %s: %w", key.PropertyName, err)
	}
	return nil
}
