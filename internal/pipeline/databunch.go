package pipeline

import (
	"fmt"

	"vidtrain/internal/options"
	"vidtrain/internal/services"
)

// DataBunch groups the training and validation sets with their loaders.
type DataBunch struct {
	TrainSet    *DataSet
	ValidSet    *DataSet
	TrainLoader *Loader
	ValidLoader *Loader
}

// NewDataBunch loads both splits. The validation loader never shuffles and
// never drops a partial batch. Splits that yield no batch are rejected.
func NewDataBunch(bunch options.DataBunchOptions, set options.DataSetOptions, loader options.DataLoaderOptions, seed int64) (*DataBunch, error) {
	labels, err := LoadLabels(resolve(set.Root, set.LabelsFile))
	if err != nil {
		return nil, err
	}
	train, err := NewDataSet("train", set.TrainMeta, labels, set, bunch, true, seed)
	if err != nil {
		return nil, err
	}
	valid, err := NewDataSet("valid", set.ValidMeta, labels, set, bunch, false, seed)
	if err != nil {
		return nil, err
	}
	for _, split := range []*DataSet{train, valid} {
		if split.Len() == 0 {
			return nil, services.Wrap(services.ErrDataset, "pipeline", "data bunch",
				fmt.Sprintf("%s split has no videos", split.split), nil)
		}
	}
	trainLoader, err := NewLoader(train, loader, seed)
	if err != nil {
		return nil, err
	}
	if trainLoader.Len() == 0 {
		return nil, services.Wrap(services.ErrDataset, "pipeline", "data bunch",
			fmt.Sprintf("train split has %d videos, fewer than one full batch of %d", train.Len(), loader.BatchSize), nil)
	}
	validOpts := loader
	validOpts.Shuffle = false
	validOpts.DropLast = false
	validLoader, err := NewLoader(valid, validOpts, seed)
	if err != nil {
		return nil, err
	}
	return &DataBunch{
		TrainSet:    train,
		ValidSet:    valid,
		TrainLoader: trainLoader,
		ValidLoader: validLoader,
	}, nil
}

func (b *DataBunch) String() string {
	s := b.TrainSet.shape
	return fmt.Sprintf("DataBunch(train=%d videos/%d batches, valid=%d videos/%d batches, clip=%dx%dx%dx%d, stride=%d)",
		b.TrainSet.Len(), b.TrainLoader.Len(), b.ValidSet.Len(), b.ValidLoader.Len(),
		s.TimeSteps, s.Channels, s.Height, s.Width, b.TrainSet.stride)
}
