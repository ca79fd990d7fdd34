package translate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoModel struct {
	fn     func(system, query string) string
	err    error
	system string
}

func (m *echoModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.system = input[0].Content
	query := input[len(input)-1].Content
	return schema.AssistantMessage(m.fn(m.system, query), nil), nil
}

func (m *echoModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *echoModel) BindTools([]*schema.ToolInfo) error { return nil }

func TestLanguageName(t *testing.T) {
	name, ok := LanguageName("cmn-hans-cn")
	require.True(t, ok)
	assert.Equal(t, "Simplified Chinese", name)

	_, ok = LanguageName("xx-XX")
	assert.False(t, ok)
}

func TestTranslate(t *testing.T) {
	m := &echoModel{fn: func(_, q string) string { return " " + strings.ToUpper(q) + " " }}
	tr, err := New(context.Background(), m, nil)
	require.NoError(t, err)

	translated, text, err := tr.Translate(context.Background(), "bonjour", "en-US")
	require.NoError(t, err)
	assert.True(t, translated)
	assert.Equal(t, "BONJOUR", text)
	assert.Contains(t, m.system, "into English")
}

func TestTranslateSameTextIsNotTranslated(t *testing.T) {
	m := &echoModel{fn: func(_, q string) string { return q }}
	tr, err := New(context.Background(), m, nil)
	require.NoError(t, err)

	translated, text, err := tr.Translate(context.Background(), "hello there", "en-GB")
	require.NoError(t, err)
	assert.False(t, translated)
	assert.Equal(t, "hello there", text)
}

func TestTranslateUnsupportedTarget(t *testing.T) {
	m := &echoModel{fn: func(_, q string) string { return "unused" }}
	tr, err := New(context.Background(), m, nil)
	require.NoError(t, err)

	translated, text, err := tr.Translate(context.Background(), "hello", "tlh-KL")
	require.NoError(t, err)
	assert.False(t, translated)
	assert.Equal(t, "hello", text)
	assert.Empty(t, m.system)
}

func TestTranslateModelError(t *testing.T) {
	tr, err := New(context.Background(), &echoModel{err: errors.New("rate limited")}, nil)
	require.NoError(t, err)

	translated, text, err := tr.Translate(context.Background(), "hola", "en-US")
	require.Error(t, err)
	assert.False(t, translated)
	assert.Equal(t, "hola", text)
}
