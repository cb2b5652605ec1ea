package db

import "mammo-assist/pkg"

// Seed returns the three demonstration cases used whenever no valid snapshot
// exists.  A fresh copy is built on every call.  The explanation texts are
// fixed data and are kept exactly as shipped, including case-3 describing a
// Malignant diagnosis as "benign".
func Seed() []pkg.PatientCase {
	return []pkg.PatientCase{
		{
			ID:         "case-1",
			PatientID:  "P001-img4.jpeg",
			Date:       "2024-07-28",
			Status:     pkg.StatusAnalyzed,
			PreviewURL: "https://storage.googleapis.com/aistudio-hosting/test-assets/mammogram-benign.jpg",
			AnalysisResult: &pkg.AnalysisResult{
				Diagnosis:       pkg.DiagnosisBenign,
				Confidence:      0.1488,
				LimeExplanation: "The model predicts this mammogram as benign with 14.88% confidence. Observed Pattern: no abnormality — uniformly low activation across the scan. The Grad-CAM average activation (0.00) suggests low model attention overall, typical for non-cancerous mammograms.",
				ShapExplanation: []string{"Low Density", "Smooth Margins", "Uniform Tissue"},
				GradCamRegion:   pkg.GradCamRegion{X: 0.6, Y: 0.4, R: 0.2},
			},
			ChatHistory: []pkg.ChatMessage{},
			Notes:       "",
		},
		{
			ID:         "case-2",
			PatientID:  "P002-img6.jpg",
			Date:       "2024-07-27",
			Status:     pkg.StatusAnalyzed,
			PreviewURL: "https://images.unsplash.com/photo-1579154233213-439d5c8a3f78?q=80&w=2724&auto=format&fit=crop",
			AnalysisResult: &pkg.AnalysisResult{
				Diagnosis:       pkg.DiagnosisBenign,
				Confidence:      0.2238,
				LimeExplanation: "The model predicts this mammogram as benign with 22.38% confidence. Observed Pattern: no abnormality — uniformly low activation across the scan. The Grad-CAM average activation (0.06) suggests low model attention overall, typical for non-cancerous mammograms.",
				ShapExplanation: []string{"Uniform Density", "Clear Margins", "No Microcalcifications"},
				GradCamRegion:   pkg.GradCamRegion{X: 0.45, Y: 0.55, R: 0.25},
			},
			ChatHistory: []pkg.ChatMessage{},
			Notes:       "Follow-up required for patient history of fibrocystic changes.",
		},
		{
			ID:         "case-3",
			PatientID:  "P003-img5.jpg",
			Date:       "2024-07-26",
			Status:     pkg.StatusAnalyzed,
			PreviewURL: "https://storage.googleapis.com/aistudio-hosting/test-assets/mammogram-malignant.jpg",
			AnalysisResult: &pkg.AnalysisResult{
				Diagnosis:       pkg.DiagnosisMalignant,
				Confidence:      0.9533,
				LimeExplanation: "The model predicts this mammogram as benign with 95.33% confidence. Observed Pattern: slightly active zones possibly indicating microcalcifications. The Grad-CAM shows high activation in a concentrated area.",
				ShapExplanation: []string{"High Density Mass", "Irregular Shape", "Spiculated Margins"},
				GradCamRegion:   pkg.GradCamRegion{X: 0.5, Y: 0.5, R: 0.15},
			},
			ChatHistory: []pkg.ChatMessage{},
			Notes:       "Urgent biopsy recommended.",
		},
	}
}
