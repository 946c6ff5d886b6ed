package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/inference"
	"github.com/vintagevision/vintagevision/internal/inference/inferencetest"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/resilience"
	"github.com/vintagevision/vintagevision/internal/store"
)

func teapot() inferencetest.Identification {
	return inferencetest.Identification{
		Domain:     "silver",
		Name:       "Georgian silver teapot",
		Maker:      "Hester Bateman",
		Era:        model.YearRange{Start: 1780, End: 1790},
		Value:      model.ValueRange{Low: 2000, High: 4000},
		Confidence: 0.72,
	}
}

func TestService_StreamPersistsBeforeComplete(t *testing.T) {
	svc, mem := newTestService(t, inferencetest.Identify(teapot()))
	sink := &recordingSink{}

	out, err := svc.Stream(context.Background(), model.AnalysisRequest{ImageRefs: []string{"teapot.jpg"}}, sink)
	require.NoError(t, err)
	require.NotEmpty(t, out.RequestID)

	stored, err := mem.GetOutcome(context.Background(), out.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Name, stored.Name)

	req, err := svc.Request(context.Background(), out.RequestID)
	require.NoError(t, err)
	assert.Equal(t, []string{"teapot.jpg"}, req.ImageRefs)
	assert.False(t, req.CreatedAt.IsZero())

	events := sink.Events()
	require.Len(t, events, 5)
	assert.Equal(t, model.ProgressComplete, events[4].Type)
	assert.Equal(t, out.ID, events[4].Outcome.ID)
}

func TestService_TriageFailureNothingPersisted(t *testing.T) {
	client := inferencetest.Identify(teapot())
	client.On(model.StageTriage, inferencetest.Fail(resilience.NewTransientError(errors.New("529 overloaded"), 529)))

	st := &mockAnalysisStore{}
	svc := NewService(newOrchestrator(t, client, store.NewMemory()), st)
	sink := &recordingSink{}

	out, err := svc.Stream(context.Background(), model.AnalysisRequest{ID: "req-1", ImageRefs: []string{"teapot.jpg"}}, sink)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, apperr.Is(err, apperr.KindExternalService))
	st.AssertNotCalled(t, "SaveOutcome", mock.Anything, mock.Anything, mock.Anything)

	events := sink.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, model.ProgressError, events[len(events)-1].Type)
}

func TestService_CancelledRunNotPersisted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := inferencetest.Identify(teapot())
	synth := inferencetest.JSON(map[string]any{"name": "Teapot", "confidence": 0.7})
	client.On(model.StageSynthesis, func(ctx context.Context, req inference.Request) (*inference.Response, error) {
		cancel()
		return synth(ctx, req)
	})

	st := &mockAnalysisStore{}
	svc := NewService(newOrchestrator(t, client, store.NewMemory()), st)

	_, err := svc.Analyze(ctx, model.AnalysisRequest{ImageRefs: []string{"teapot.jpg"}})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindCancelled))
	st.AssertNotCalled(t, "SaveOutcome", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_SaveFailureEmitsError(t *testing.T) {
	st := &mockAnalysisStore{}
	st.On("SaveOutcome", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("disk full"))
	svc := NewService(newOrchestrator(t, inferencetest.Identify(teapot()), store.NewMemory()), st)
	sink := &recordingSink{}

	_, err := svc.Stream(context.Background(), model.AnalysisRequest{ImageRefs: []string{"teapot.jpg"}}, sink)
	require.Error(t, err)

	events := sink.Events()
	require.Len(t, events, 5)
	for _, ev := range events[:4] {
		assert.Equal(t, model.ProgressStageStart, ev.Type)
	}
	assert.Equal(t, model.ProgressError, events[4].Type)
	assert.Equal(t, 75, events[4].Progress)
	st.AssertExpectations(t)
}

func TestService_Reanalyze(t *testing.T) {
	svc, mem := newTestService(t, inferencetest.Identify(teapot()))
	ctx := context.Background()

	first, err := svc.Analyze(ctx, model.AnalysisRequest{ID: "req-1", ImageRefs: []string{"teapot.jpg"}})
	require.NoError(t, err)

	req := model.AnalysisRequest{ID: "req-1", ImageRefs: []string{"teapot.jpg"}}.WithEvidence(
		model.Evidence{NeedID: "hallmark_photo", NeedType: "hallmark_photo", Kind: model.EvidencePhoto, Content: "hallmark.jpg"},
	)
	second, err := svc.Reanalyze(ctx, req, first.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.Supersedes)
	assert.NotEqual(t, "req-1", second.RequestID)

	stored, err := mem.GetRequest(ctx, second.RequestID)
	require.NoError(t, err)
	assert.Len(t, stored.Evidence, 1)
}

func TestService_Validation(t *testing.T) {
	svc, _ := newTestService(t, inferencetest.New())
	neg := -5.0

	tests := []struct {
		name string
		req  model.AnalysisRequest
	}{
		{"no images", model.AnalysisRequest{}},
		{"blank image", model.AnalysisRequest{ImageRefs: []string{" "}}},
		{"negative price", model.AnalysisRequest{ImageRefs: []string{"a.jpg"}, AskingPrice: &neg}},
		{"bad evidence kind", model.AnalysisRequest{ImageRefs: []string{"a.jpg"}, Evidence: []model.Evidence{{Kind: "video", Content: "x"}}}},
		{"empty evidence", model.AnalysisRequest{ImageRefs: []string{"a.jpg"}, Evidence: []model.Evidence{{Kind: model.EvidenceText}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			_, err := svc.Stream(context.Background(), tt.req, sink)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			events := sink.Events()
			require.Len(t, events, 1)
			assert.Equal(t, model.ProgressError, events[0].Type)
		})
	}
}
