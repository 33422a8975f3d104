package report

import "github.com/agoraflux/chart-export/pkg/model"

// BuiltinTemplates returns the predefined report layouts offered to users.
func BuiltinTemplates() []model.ReportTemplate {
	return []model.ReportTemplate{
		{
			ID:           "monthly-summary",
			Name:         "Rapport Mensuel",
			Description:  "Synthèse mensuelle de la participation citoyenne",
			TemplateType: "monthly",
			Sections:     []string{"overview", "participation", "projects", "budget"},
			ChartsIncluded: []string{
				"participation-trend", "budget-distribution", "project-status",
			},
			DefaultParams: map[string]any{"period": "month"},
		},
		{
			ID:           "quarterly-report",
			Name:         "Rapport Trimestriel",
			Description:  "Bilan trimestriel des projets et de l'engagement",
			TemplateType: "quarterly",
			Sections:     []string{"overview", "participation", "projects", "budget", "comparison"},
			ChartsIncluded: []string{
				"participation-trend", "budget-distribution", "project-status", "quarterly-comparison",
			},
			DefaultParams: map[string]any{"period": "quarter"},
		},
		{
			ID:           "annual-report",
			Name:         "Rapport Annuel",
			Description:  "Rapport annuel complet avec indicateurs clés",
			TemplateType: "annual",
			Sections:     []string{"overview", "participation", "projects", "budget", "comparison", "outlook"},
			ChartsIncluded: []string{
				"participation-trend", "budget-distribution", "project-status",
				"quarterly-comparison", "yearly-summary",
			},
			DefaultParams: map[string]any{"period": "year"},
		},
		{
			ID:           "project-report",
			Name:         "Rapport de Projet",
			Description:  "Rapport détaillé pour un projet spécifique",
			TemplateType: "custom",
			Sections:     []string{"overview", "budget", "timeline", "participation"},
			ChartsIncluded: []string{
				"project-budget", "project-timeline", "project-participation",
			},
			DefaultParams: map[string]any{"project_id": nil},
		},
	}
}

// TemplateByID returns the builtin template with the given id.
func TemplateByID(id string) (model.ReportTemplate, bool) {
	for _, t := range BuiltinTemplates() {
		if t.ID == id {
			return t, true
		}
	}
	return model.ReportTemplate{}, false
}
