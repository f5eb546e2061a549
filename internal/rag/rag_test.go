package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextShortContent(t *testing.T) {
	assert.Nil(t, ChunkText(""))
	assert.Equal(t, []string{"tiny"}, ChunkText("tiny"))
}

func TestChunkTextOverlap(t *testing.T) {
	content := strings.Repeat("a", 2000)
	chunks := ChunkText(content)

	require.Len(t, chunks, 3)
	assert.Len(t, []rune(chunks[0]), chunkSize)
	// Windows advance by chunkSize-chunkOverlap, so neighbors share content.
	assert.Len(t, []rune(chunks[1]), chunkSize)
	assert.Len(t, []rune(chunks[2]), 2000-2*(chunkSize-chunkOverlap))
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e, err := NewHashEmbedder(16)
	require.NoError(t, err)

	a, err := e.Embed(context.Background(), "def main(): pass")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "def main(): pass")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, e.Dimensions())
}

func TestHashEmbedderDistinguishesTexts(t *testing.T) {
	e, err := NewHashEmbedder(16)
	require.NoError(t, err)

	a, err := e.Embed(context.Background(), "database connection pooling")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "websocket frame parsing")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestIsIndexable(t *testing.T) {
	assert.True(t, IsIndexable("src/main.py"))
	assert.True(t, IsIndexable("README.md"))
	assert.False(t, IsIndexable("image.png"))
	assert.False(t, IsIndexable("binary.exe"))
}

func TestStoreReindexAndQuery(t *testing.T) {
	embedder, err := NewHashEmbedder(64)
	require.NoError(t, err)
	st, err := NewStore(t.TempDir(), 1, "demo", embedder, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.ReindexFile(ctx, "auth.py", "def hash_password(pw): return bcrypt(pw)"))
	require.NoError(t, st.ReindexFile(ctx, "tree.py", "def build_file_tree(root): return walk(root)"))
	assert.Equal(t, 2, st.Count())

	snippets, err := st.Query(ctx, "hash_password bcrypt", 2)
	require.NoError(t, err)
	require.NotEmpty(t, snippets)
	assert.Equal(t, "auth.py", snippets[0].Path)

	require.NoError(t, st.RemoveFile(ctx, "auth.py"))
	assert.Equal(t, 1, st.Count())
}

func TestReindexFileStoresOneDocumentPerDefinition(t *testing.T) {
	embedder, err := NewHashEmbedder(64)
	require.NoError(t, err)
	st, err := NewStore(t.TempDir(), 1, "demo", embedder, nil)
	require.NoError(t, err)

	source := "def create_app():\n    return App()\n\n\nclass App:\n    def run(self):\n        pass\n"
	ctx := context.Background()
	require.NoError(t, st.ReindexFile(ctx, "app.py", source))
	assert.Equal(t, 2, st.Count())

	snippets, err := st.Query(ctx, "class App run", 2)
	require.NoError(t, err)
	require.Len(t, snippets, 2)
	for _, sn := range snippets {
		assert.Equal(t, "app.py", sn.Path)
	}
	// Each hit is a whole definition, not a byte window.
	contents := []string{snippets[0].Content, snippets[1].Content}
	assert.Contains(t, contents, "def create_app():\n    return App()")

	// Re-indexing the same file replaces its documents in place.
	require.NoError(t, st.ReindexFile(ctx, "app.py", source))
	assert.Equal(t, 2, st.Count())
}

func TestReindexFileFallsBackToChunksForBrokenPython(t *testing.T) {
	embedder, err := NewHashEmbedder(64)
	require.NoError(t, err)
	st, err := NewStore(t.TempDir(), 1, "demo", embedder, nil)
	require.NoError(t, err)

	require.NoError(t, st.ReindexFile(context.Background(), "broken.py", "def oops(:\n"))
	assert.Equal(t, 1, st.Count())
}

func TestReindexProject(t *testing.T) {
	embedder, err := NewHashEmbedder(64)
	require.NoError(t, err)
	st, err := NewStore(t.TempDir(), 1, "demo", embedder, nil)
	require.NoError(t, err)

	files := []string{"a.py", "skip.png", "b.md"}
	contents := map[string]string{
		"a.py": "print('a')",
		"b.md": "# notes",
	}
	err = st.ReindexProject(context.Background(), files, func(path string) (string, error) {
		return contents[path], nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Count())
}
