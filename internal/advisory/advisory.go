// Package advisory serves the per-category guidance shown alongside an
// analyzed report: mitigation steps, health impact, climate impact.
package advisory

import (
	"civiclens-service/internal/domain/report"
)

type Content struct {
	Precautions   []string `json:"precautions"`
	HealthImpact  string   `json:"health_impact"`
	ClimateImpact string   `json:"climate_impact"`
}

var byCategory = map[report.Category]Content{
	report.CategoryWaste: {
		Precautions: []string{
			"1. Wear gloves and a mask before handling waste.",
			"2. Separate recyclables (plastic, paper, glass) from organic waste.",
			"3. Use a dustbin or bag to collect scattered trash.",
			"4. Contact your local waste collection service for pickup.",
			"5. Dispose of organic waste in a compost pit if available.",
		},
		HealthImpact:  "Accumulated waste attracts pests (rats, flies) which spread diseases like Leptospirosis, Dengue, and Cholera. Decomposing waste releases toxic gases posing respiratory risks.",
		ClimateImpact: "Rotting organic waste releases Methane, a potent greenhouse gas. Plastics break down into microplastics, contaminating soil and water bodies.",
	},
	report.CategoryWater: {
		Precautions: []string{
			"1. Avoid direct contact with stagnant water.",
			"2. Clear any blockages in nearby drainage channels.",
			"3. Apply mosquito repellent around the area.",
			"4. Use bleaching powder to disinfect small stagnant pools.",
			"5. Report persistent water logging to your water utility.",
		},
		HealthImpact:  "Stagnant water is a breeding ground for mosquitoes, leading to outbreaks of Malaria, Dengue, and Chikungunya. Contaminated water can cause skin infections and gastrointestinal diseases.",
		ClimateImpact: "Water stagnation damages infrastructure and soil structure. It also indicates poor drainage systems which are vulnerable to extreme weather events caused by climate change.",
	},
	report.CategoryRoad: {
		Precautions: []string{
			"1. Place visible markers (cones, branches) around the hazard.",
			"2. Alert other pedestrians and motorists verbally.",
			"3. Take photos and share on community groups for awareness.",
			"4. For small potholes, fill temporarily with gravel if safe.",
			"5. Contact the local road maintenance department immediately.",
		},
		HealthImpact:  "Damaged roads cause accidents leading to physical injuries. Dust from broken roads contributes to air pollution, aggravating asthma and other respiratory conditions.",
		ClimateImpact: "Poor road quality increases vehicle fuel consumption and emissions due to traffic congestion and idling. It also increases the heat island effect in urban areas.",
	},
}

// ForCategory returns the guidance for a category.
func ForCategory(c report.Category) (Content, bool) {
	content, ok := byCategory[c]
	return content, ok
}
