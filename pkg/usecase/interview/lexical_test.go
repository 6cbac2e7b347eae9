package interview

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kiku/pkg/model"
)

func TestLexicalCheck(t *testing.T) {
	tests := []struct {
		name   string
		update *model.TopicUpdate
		flags  []model.LexicalFlag
	}{
		{
			name: "clean verdict",
			update: &model.TopicUpdate{
				Key:       model.TopicProblem,
				Status:    model.TopicOK,
				Rationale: "the user described the failed Q3 launch, which means the cost is concrete",
			},
		},
		{
			name: "thin verdict with positive-only rationale",
			update: &model.TopicUpdate{
				Key:       model.TopicProblem,
				Status:    model.TopicThin,
				Rationale: "a clear and thorough description of the workflow",
			},
			flags: []model.LexicalFlag{model.FlagSelfContradiction},
		},
		{
			name: "thin verdict naming the deficiency passes",
			update: &model.TopicUpdate{
				Key:       model.TopicProblem,
				Status:    model.TopicThin,
				Rationale: "a clear description of the workflow, but the actual impact is missing",
			},
		},
		{
			name: "generic advice",
			update: &model.TopicUpdate{
				Key:    model.TopicImpact,
				Status: model.TopicThin,
				Advice: "Please elaborate and dig deeper on this topic",
			},
			flags: []model.LexicalFlag{model.FlagGenericAdvice},
		},
		{
			name: "instructional example",
			update: &model.TopicUpdate{
				Key:     model.TopicAudience,
				Status:  model.TopicThin,
				Example: "Describe who uses the tool every day",
			},
			flags: []model.LexicalFlag{model.FlagInstructionalExample},
		},
		{
			name: "exemplar example passes",
			update: &model.TopicUpdate{
				Key:     model.TopicAudience,
				Status:  model.TopicThin,
				Example: "Our support team opens it every morning before standup",
			},
		},
		{
			name: "procedural rationale without analysis",
			update: &model.TopicUpdate{
				Key:       model.TopicUrgency,
				Status:    model.TopicOK,
				Rationale: "updated the topic and marked as covered",
			},
			flags: []model.LexicalFlag{model.FlagProceduralRationale},
		},
		{
			name: "procedural wording with analysis passes",
			update: &model.TopicUpdate{
				Key:       model.TopicUrgency,
				Status:    model.TopicOK,
				Rationale: "marked as covered because the user tied the deadline to the audit date",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := lexicalCheck(tt.update)
			gt.V(t, len(violations)).Equal(len(tt.flags))
			for i, flag := range tt.flags {
				gt.V(t, violations[i].Flag).Equal(flag)
				gt.V(t, violations[i].Topic).Equal(tt.update.Key)
			}
		})
	}
}

func TestLexicalCheckNil(t *testing.T) {
	gt.V(t, len(lexicalCheck(nil))).Equal(0)
}
