package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/peersync/pkg/encoding"
)

func TestWorld_SpawnAndComponents(t *testing.T) {
	w := NewWorld()
	pos := encoding.NewValue(1, [2]float32{1, 2})
	name := encoding.NewValue(2, "crate")

	id := w.Spawn(pos, name)
	assert.True(t, w.Exists(id))
	assert.Equal(t, 1, w.Len())

	components, ok := w.Components(id)
	require.True(t, ok)
	require.Len(t, components, 2)
	assert.Same(t, pos, components[0])

	c, ok := w.Component(id, 2)
	require.True(t, ok)
	assert.Same(t, name, c)

	_, ok = w.Component(id, 3)
	assert.False(t, ok)
}

func TestWorld_AddComponentsReplacesSameID(t *testing.T) {
	w := NewWorld()
	id := w.Spawn(encoding.NewValue(1, 10))

	replacement := encoding.NewValue(1, 20)
	require.NoError(t, w.AddComponents(id, replacement, encoding.NewValue(2, "x")))

	components, _ := w.Components(id)
	require.Len(t, components, 2)
	assert.Same(t, replacement, components[0])

	assert.ErrorIs(t, w.AddComponents(999), ErrEntityNotFound)
}

func TestWorld_DespawnIsRecursive(t *testing.T) {
	w := NewWorld()
	root := w.Spawn()
	child, err := w.SpawnChild(root)
	require.NoError(t, err)
	grandchild, err := w.SpawnChild(child)
	require.NoError(t, err)
	sibling := w.Spawn()

	parent, ok := w.Parent(grandchild)
	require.True(t, ok)
	assert.Equal(t, child, parent)

	assert.Equal(t, 3, w.Despawn(root))
	assert.False(t, w.Exists(root))
	assert.False(t, w.Exists(child))
	assert.False(t, w.Exists(grandchild))
	assert.True(t, w.Exists(sibling))

	assert.Equal(t, 0, w.Despawn(root))
}

func TestWorld_DespawnChildDetachesFromParent(t *testing.T) {
	w := NewWorld()
	root := w.Spawn()
	a, _ := w.SpawnChild(root)
	b, _ := w.SpawnChild(root)

	assert.Equal(t, 1, w.Despawn(a))
	assert.Equal(t, []EntityID{b}, w.Children(root))

	_, err := w.SpawnChild(a)
	assert.ErrorIs(t, err, ErrEntityNotFound)
}
