package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/dbaas/internal/activity"
	"github.com/edvin/dbaas/internal/core"
	"github.com/edvin/dbaas/internal/model"
)

// ---------- RunOperationWorkflow ----------

type RunOperationWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *RunOperationWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivity(&activity.Operations{})
}

func (s *RunOperationWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *RunOperationWorkflowTestSuite) TestSuccess() {
	params := core.RunOperationParams{Kind: model.KindBackup, Name: "nightly"}

	s.env.OnActivity("DispatchOperation", mock.Anything, params).Return(nil).Once()
	s.env.OnActivity("TrackOperation", mock.Anything, params).Return(nil).Once()

	s.env.ExecuteWorkflow(RunOperationWorkflow, params)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *RunOperationWorkflowTestSuite) TestDispatchFailureSkipsTracking() {
	params := core.RunOperationParams{Kind: model.KindRestore, Name: "r1"}

	s.env.OnActivity("DispatchOperation", mock.Anything, params).Return(errors.New("db down")).Once()

	s.env.ExecuteWorkflow(RunOperationWorkflow, params)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *RunOperationWorkflowTestSuite) TestTrackingIsRetried() {
	params := core.RunOperationParams{Kind: model.KindBackup, Name: "nightly"}

	s.env.OnActivity("DispatchOperation", mock.Anything, params).Return(nil).Once()
	s.env.OnActivity("TrackOperation", mock.Anything, params).Return(errors.New("connection reset")).Once()
	s.env.OnActivity("TrackOperation", mock.Anything, params).Return(nil).Once()

	s.env.ExecuteWorkflow(RunOperationWorkflow, params)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *RunOperationWorkflowTestSuite) TestDeletedOperationStopsTracking() {
	params := core.RunOperationParams{Kind: model.KindBackup, Name: "gone"}

	s.env.OnActivity("DispatchOperation", mock.Anything, params).Return(nil).Once()
	s.env.OnActivity("TrackOperation", mock.Anything, params).
		Return(temporal.NewNonRetryableApplicationError("not found", "OPERATION_NOT_FOUND", nil)).Once()

	s.env.ExecuteWorkflow(RunOperationWorkflow, params)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

// ---------- ReconcileOperationsWorkflow ----------

type ReconcileOperationsWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *ReconcileOperationsWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivity(&activity.Operations{})
}

func (s *ReconcileOperationsWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *ReconcileOperationsWorkflowTestSuite) TestSuccess() {
	s.env.OnActivity("ResumeUnfinishedOperations", mock.Anything).Return(2, nil).Once()

	s.env.ExecuteWorkflow(ReconcileOperationsWorkflow)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *ReconcileOperationsWorkflowTestSuite) TestActivityFails() {
	s.env.OnActivity("ResumeUnfinishedOperations", mock.Anything).Return(0, errors.New("db down"))

	s.env.ExecuteWorkflow(ReconcileOperationsWorkflow)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func TestRunOperationWorkflow(t *testing.T) {
	suite.Run(t, new(RunOperationWorkflowTestSuite))
}

func TestReconcileOperationsWorkflow(t *testing.T) {
	suite.Run(t, new(ReconcileOperationsWorkflowTestSuite))
}
