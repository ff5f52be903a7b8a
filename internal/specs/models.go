package specs

import (
	"fmt"
	"sort"
	"strings"

	"vidtrain/internal/models"
	"vidtrain/internal/services"
	"vidtrain/internal/textutil"
)

var tarnEncoderPlanes = []int{16, 32, 64, 128, 256}

func tarn(batch, steps int) models.TARNOptions {
	return models.TARNOptions{
		BatchSize:            batch,
		TimeSteps:            steps,
		SpatialEncoderPlanes: append([]int(nil), tarnEncoderPlanes...),
		BottleneckPlanes:     64,
		ClassifierDropRate:   0.5,
		ClassEmbedPlanes:     512,
	}
}

func tadn(batch, steps int) models.TADNOptions {
	return models.TADNOptions{
		BatchSize:          batch,
		TimeSteps:          steps,
		TemporalInPlanes:   64,
		GrowthRate:         64,
		TemporalDropRate:   0.0,
		ClassifierDropRate: 0.5,
		ClassEmbedPlanes:   512,
	}
}

// catalog builds fresh values on every call so callers cannot alias slices.
func catalog() map[string]models.Spec {
	return map[string]models.Spec{
		"tadn_class_4": tadn(32, 4),
		"tadn_class_8": tadn(8, 8),

		"tarn_class_4": tarn(32, 4),
		"tarn_class_8": tarn(16, 8),
		"tarn_ae_4": models.AETARNOptions{
			TARNOptions:          tarn(32, 4),
			SpatialDecoderPlanes: []int{256, 128, 64, 32, 16},
			Flow:                 false,
		},
		"tarn_flow_4": models.AETARNOptions{
			TARNOptions:          tarn(32, 4),
			SpatialDecoderPlanes: []int{256, 128, 64, 32, 16},
			Flow:                 true,
		},
		"tarn_gsnn_4": models.GSNNTARNOptions{
			TARNOptions: tarn(16, 4),
			VoteType:    models.VoteSoft,
		},
		"tarn_vae_4": models.VAETARNOptions{
			TARNOptions:          tarn(16, 4),
			SpatialDecoderPlanes: []int{64, 64, 64, 64, 64},
			VoteType:             models.VoteSoft,
		},

		"i3d_class_4": models.I3DOptions{BatchSize: 32, TimeSteps: 4, DropoutProb: 0.5},
		"i3d_class_8": models.I3DOptions{BatchSize: 8, TimeSteps: 8, DropoutProb: 0.5},
		"i3d_ae_4": models.AEI3DOptions{
			BatchSize: 8, TimeSteps: 4, EmbedPlanes: 1024, DropoutProb: 0.5, Flow: false,
		},
		"i3d_flow_4": models.AEI3DOptions{
			BatchSize: 8, TimeSteps: 4, EmbedPlanes: 1024, DropoutProb: 0.5, Flow: true,
		},
		"i3d_ae_8": models.AEI3DOptions{
			BatchSize: 4, TimeSteps: 8, EmbedPlanes: 1024, DropoutProb: 0.5, Flow: false,
		},
		"i3d_gsnn_4": models.GSNNI3DOptions{
			BatchSize: 8, TimeSteps: 4, LatentPlanes: 1024, DropoutProb: 0.5, VoteType: models.VoteSoft,
		},
		"i3d_vae_4": models.VAEI3DOptions{
			BatchSize: 8, TimeSteps: 4, LatentPlanes: 1024, DropoutProb: 0.5, VoteType: models.VoteSoft,
		},
	}
}

// Model returns the named model preset.
func Model(name string) (models.Spec, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	spec, ok := catalog()[key]
	if !ok {
		msg := fmt.Sprintf("unknown model preset %q", name)
		if suggestion, _ := textutil.Closest(key, Names()); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
		}
		return nil, services.Wrap(services.ErrNotFound, "specs", "lookup", msg, nil)
	}
	return spec, nil
}

// Names lists every preset in sorted order.
func Names() []string {
	c := catalog()
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
