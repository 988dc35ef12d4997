package knowledge

// commonSymptoms is the default symptom vocabulary. Conditions reference a
// subset; the rest still get feature slots and can be asked about.
var commonSymptoms = []string{
	"fever", "headache", "cough", "fatigue", "sore_throat", "runny_nose",
	"body_aches", "nausea", "vomiting", "diarrhea", "chest_pain",
	"shortness_of_breath", "dizziness", "rash", "abdominal_pain",
	"joint_pain", "back_pain", "insomnia", "loss_of_appetite",
	"weight_loss", "weight_gain", "blurred_vision", "ear_pain",
	"difficulty_swallowing", "irregular_heartbeat", "excessive_thirst",
	"frequent_urination", "muscle_weakness", "numbness", "tingling",
}

func defaultConditions() []Condition {
	return []Condition{
		{
			Name: "common_cold",
			Symptoms: map[string]SymptomLink{
				"runny_nose":  {Probability: 0.9, MinSeverity: 6, MaxSeverity: 10},
				"sore_throat": {Probability: 0.8, MinSeverity: 5, MaxSeverity: 10},
				"cough":       {Probability: 0.7, MinSeverity: 5, MaxSeverity: 10},
				"headache":    {Probability: 0.6, MinSeverity: 4, MaxSeverity: 10},
				"fatigue":     {Probability: 0.5, MinSeverity: 4, MaxSeverity: 10},
				"body_aches":  {Probability: 0.4, MinSeverity: 3, MaxSeverity: 10},
			},
			Urgency:    1,
			Specialist: "general_practitioner",
			AgeGroups:  []string{"all"},
			GenderBias: "none",
		},
		{
			Name: "influenza",
			Symptoms: map[string]SymptomLink{
				"fever":       {Probability: 0.95, MinSeverity: 6, MaxSeverity: 10},
				"body_aches":  {Probability: 0.9, MinSeverity: 6, MaxSeverity: 10},
				"fatigue":     {Probability: 0.9, MinSeverity: 6, MaxSeverity: 10},
				"headache":    {Probability: 0.8, MinSeverity: 5, MaxSeverity: 10},
				"cough":       {Probability: 0.7, MinSeverity: 5, MaxSeverity: 10},
				"sore_throat": {Probability: 0.6, MinSeverity: 4, MaxSeverity: 10},
			},
			Urgency:    2,
			Specialist: "general_practitioner",
			AgeGroups:  []string{"all"},
			GenderBias: "none",
		},
		{
			Name: "migraine",
			Symptoms: map[string]SymptomLink{
				"headache":       {Probability: 0.95, MinSeverity: 6, MaxSeverity: 10},
				"nausea":         {Probability: 0.6, MinSeverity: 4, MaxSeverity: 10},
				"blurred_vision": {Probability: 0.4, MinSeverity: 3, MaxSeverity: 10},
				"dizziness":      {Probability: 0.3, MinSeverity: 2, MaxSeverity: 10},
				"fatigue":        {Probability: 0.5, MinSeverity: 4, MaxSeverity: 10},
			},
			Urgency:    2,
			Specialist: "neurologist",
			AgeGroups:  []string{"adult"},
			GenderBias: "female",
		},
		{
			Name: "pneumonia",
			Symptoms: map[string]SymptomLink{
				"cough":               {Probability: 0.9, MinSeverity: 6, MaxSeverity: 10},
				"fever":               {Probability: 0.8, MinSeverity: 5, MaxSeverity: 10},
				"shortness_of_breath": {Probability: 0.7, MinSeverity: 5, MaxSeverity: 10},
				"chest_pain":          {Probability: 0.6, MinSeverity: 4, MaxSeverity: 10},
				"fatigue":             {Probability: 0.7, MinSeverity: 5, MaxSeverity: 10},
				"body_aches":          {Probability: 0.5, MinSeverity: 4, MaxSeverity: 10},
			},
			Urgency:    4,
			Specialist: "pulmonologist",
			AgeGroups:  []string{"elderly", "child"},
			GenderBias: "none",
		},
		{
			Name: "hypertension",
			Symptoms: map[string]SymptomLink{
				"headache":            {Probability: 0.4, MinSeverity: 3, MaxSeverity: 10},
				"dizziness":           {Probability: 0.3, MinSeverity: 2, MaxSeverity: 10},
				"blurred_vision":      {Probability: 0.2, MinSeverity: 2, MaxSeverity: 10},
				"chest_pain":          {Probability: 0.2, MinSeverity: 2, MaxSeverity: 10},
				"shortness_of_breath": {Probability: 0.3, MinSeverity: 2, MaxSeverity: 10},
			},
			Urgency:    3,
			Specialist: "cardiologist",
			AgeGroups:  []string{"adult", "elderly"},
			GenderBias: "none",
		},
		{
			Name: "diabetes_type_2",
			Symptoms: map[string]SymptomLink{
				"excessive_thirst":   {Probability: 0.7, MinSeverity: 5, MaxSeverity: 10},
				"frequent_urination": {Probability: 0.8, MinSeverity: 5, MaxSeverity: 10},
				"fatigue":            {Probability: 0.6, MinSeverity: 4, MaxSeverity: 10},
				"weight_loss":        {Probability: 0.4, MinSeverity: 3, MaxSeverity: 10},
				"blurred_vision":     {Probability: 0.3, MinSeverity: 2, MaxSeverity: 10},
			},
			Urgency:    3,
			Specialist: "endocrinologist",
			AgeGroups:  []string{"adult", "elderly"},
			GenderBias: "none",
		},
		{
			Name: "anxiety_disorder",
			Symptoms: map[string]SymptomLink{
				"irregular_heartbeat": {Probability: 0.6, MinSeverity: 4, MaxSeverity: 10},
				"shortness_of_breath": {Probability: 0.5, MinSeverity: 4, MaxSeverity: 10},
				"dizziness":           {Probability: 0.4, MinSeverity: 3, MaxSeverity: 10},
				"insomnia":            {Probability: 0.7, MinSeverity: 5, MaxSeverity: 10},
				"fatigue":             {Probability: 0.6, MinSeverity: 4, MaxSeverity: 10},
			},
			Urgency:    2,
			Specialist: "psychiatrist",
			AgeGroups:  []string{"adult"},
			GenderBias: "female",
		},
	}
}

// Default returns the embedded knowledge base.
func Default() *Base {
	b, err := New(defaultConditions(), commonSymptoms...)
	if err != nil {
		// The embedded tables are validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return b
}
