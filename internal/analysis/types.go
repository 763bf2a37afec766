// Package analysis implements the per-kind AI processors: CV analysis, job requirements generation,
// interview analysis and interview question generation.
package analysis

// CVAnalysisRequest asks how well a CV matches a role.
type CVAnalysisRequest struct {
	CVText          string   `json:"cvText"                    validate:"notblank,max=100000"`
	JobRequirements string   `json:"jobRequirements"           validate:"notblank,max=20000"`
	JobTitle        string   `json:"jobTitle,omitempty"        validate:"max=200"`
	Skills          []string `json:"skills,omitempty"          validate:"max=100,dive,max=100"`
	UserID          string   `json:"userId,omitempty"`
	CandidateName   string   `json:"candidateName,omitempty"   validate:"max=200"`
}

// CVAnalysisResult scores a CV against job requirements. Scores are 0-100.
type CVAnalysisResult struct {
	Score           int      `json:"score"`
	ExperienceMatch int      `json:"experienceMatch"`
	SkillsMatch     int      `json:"skillsMatch"`
	MatchedSkills   []string `json:"matchedSkills"`
	MissingSkills   []string `json:"missingSkills"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Summary         string   `json:"summary"`
	Recommendation  string   `json:"recommendation"`
}

// JobRequirementsRequest describes a role to draft requirements for.
type JobRequirementsRequest struct {
	JobTitle    string   `json:"jobTitle"              validate:"notblank,max=200"`
	Department  string   `json:"department,omitempty"  validate:"max=200"`
	Seniority   string   `json:"seniority,omitempty"   validate:"omitempty,oneof=intern junior mid senior lead principal"`
	Description string   `json:"description,omitempty" validate:"max=20000"`
	Skills      []string `json:"skills,omitempty"      validate:"max=100,dive,max=100"`
}

// JobRequirementsResult is a structured job requirements draft.
type JobRequirementsResult struct {
	Title              string   `json:"title"`
	Summary            string   `json:"summary"`
	Responsibilities   []string `json:"responsibilities"`
	RequiredSkills     []string `json:"requiredSkills"`
	PreferredSkills    []string `json:"preferredSkills"`
	MinYearsExperience int      `json:"minYearsExperience"`
	Education          string   `json:"education"`
	Qualifications     []string `json:"qualifications"`
}

// InterviewAnalysisRequest asks for an assessment of an interview transcript.
type InterviewAnalysisRequest struct {
	Transcript      string   `json:"transcript"                validate:"notblank,max=200000"`
	JobTitle        string   `json:"jobTitle"                  validate:"notblank,max=200"`
	JobRequirements string   `json:"jobRequirements,omitempty" validate:"max=20000"`
	Questions       []string `json:"questions,omitempty"       validate:"max=100,dive,max=2000"`
	CandidateName   string   `json:"candidateName,omitempty"   validate:"max=200"`
}

// InterviewAnalysisResult rates a candidate. OverallScore is 0-100; the dimension scores are 1-10.
type InterviewAnalysisResult struct {
	OverallScore   int      `json:"overallScore"`
	Communication  int      `json:"communication"`
	Technical      int      `json:"technical"`
	CulturalFit    int      `json:"culturalFit"`
	ProblemSolving int      `json:"problemSolving"`
	Strengths      []string `json:"strengths"`
	Concerns       []string `json:"concerns"`
	Summary        string   `json:"summary"`
	Recommendation string   `json:"recommendation"`
}

// QuestionGenerationRequest asks for interview questions for a role.
type QuestionGenerationRequest struct {
	JobTitle        string   `json:"jobTitle"                  validate:"notblank,max=200"`
	JobRequirements string   `json:"jobRequirements,omitempty" validate:"max=20000"`
	Skills          []string `json:"skills,omitempty"          validate:"max=100,dive,max=100"`
	Count           int      `json:"count,omitempty"`
	Difficulty      string   `json:"difficulty,omitempty"      validate:"omitempty,oneof=easy medium hard"`
	Types           []string `json:"types,omitempty"           validate:"dive,oneof=technical behavioral situational cultural"`
}

// Question is one generated interview question. Difficulty is 1-5.
type Question struct {
	Question       string `json:"question"`
	Type           string `json:"type"`
	Difficulty     int    `json:"difficulty"`
	Skill          string `json:"skill,omitempty"`
	ExpectedAnswer string `json:"expectedAnswer,omitempty"`
}

// QuestionSet is the result of question generation.
type QuestionSet struct {
	JobTitle  string     `json:"jobTitle"`
	Questions []Question `json:"questions"`
}
