package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/timefix/internal/errmsg"
)

func utcResolver() *Resolver {
	return New(WithLocation(time.UTC))
}

func TestFromFilename(t *testing.T) {
	r := utcResolver()

	tests := []struct {
		name     string
		expected string
		strategy Strategy
	}{
		{"IMG_20230101_123045.jpg", "2023-01-01 12:30:45", StrategyCompact},
		{"photo_2023-01-01-12-30-45.png", "2023-01-01 12:30:45", StrategyDateTime},
		{"document_20230101.pdf", "2023-01-01 00:00:00", StrategyCompact},
		{"image_2023.01.01.12.30.45.bmp", "2023-01-01 12:30:45", StrategyDateTime},
		{"image_20230101123045.bmp", "2023-01-01 12:30:45", StrategyCompact},
		{"image_20230101123045_.bmp", "2023-01-01 12:30:45", StrategyCompact},
		{"PXL_20230615_143022123.jpg", "2023-06-15 14:30:22", StrategyCompact},
		{"PXL_20230615_143022123.MP.jpg", "2023-06-15 14:30:22", StrategyCompact},
		{"report 2023 01 03.pdf", "2023-01-03 00:00:00", StrategyLoose},
		{"A2023.01.02 13.45.30.jpg", "2023-01-02 13:45:30", StrategyLoose},
		{"image 2023.01.02.jpg", "2023-01-02 00:00:00", StrategyLoose},
		{"image 2023.jpg", "2023-01-01 00:00:00", StrategyYear},
		{"file_2023 01 04 14:30.jpg", "2023-01-04 14:30:00", StrategyLoose},
		{"2022_06_25-12.13.07.jpg", "2022-06-25 12:13:07", StrategyLoose},
		{".2023_02_17 下午9_30 Office Lens (16).jpg", "2023-02-17 21:30:00", StrategyAMPM},
		{".2023_02_17 上午9_30 Office Lens (16).jpg", "2023-02-17 09:30:00", StrategyAMPM},
		{".2023_02_17 上午12_30 Office Lens (16).jpg", "2023-02-17 00:30:00", StrategyAMPM},
		{".2023_02_17 下午12_30 Office Lens (16).jpg", "2023-02-17 12:30:00", StrategyAMPM},
		{"scan 2023_02_17 PM3_05.jpg", "2023-02-17 15:05:00", StrategyAMPM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, strategy, ok := r.FromFilename(tt.name)
			require.True(t, ok, "expected a date in %q", tt.name)
			assert.Equal(t, tt.expected, got.Format(time.DateTime))
			assert.Equal(t, tt.strategy, strategy)
		})
	}
}

func TestFromFilenameEpoch(t *testing.T) {
	r := utcResolver()

	got, strategy, ok := r.FromFilename("1748512965775.jpg")
	require.True(t, ok)
	assert.Equal(t, StrategyEpoch, strategy)
	assert.Equal(t, int64(1748512965775), got.UnixMilli())

	got, _, ok = r.FromFilename("wx_camera_1748512965.jpg")
	require.True(t, ok)
	assert.Equal(t, int64(1748512965000), got.UnixMilli())
}

func TestFromFilenameMilliseconds(t *testing.T) {
	r := utcResolver()

	tests := []struct {
		name   string
		millis int
	}{
		{"2022-06-25_12.13.07.326.jpg", 326},
		{"2022-06-25_12.13.07.32.jpg", 320},
		{"2022-06-25_12.13.07.3.jpg", 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, strategy, ok := r.FromFilename(tt.name)
			require.True(t, ok)
			assert.Equal(t, StrategyLoose, strategy)
			base := time.Date(2022, 6, 25, 12, 13, 7, 0, time.UTC)
			assert.Equal(t, time.Duration(tt.millis)*time.Millisecond, got.Sub(base))
		})
	}
}

func TestFromFilenameNoDate(t *testing.T) {
	r := utcResolver()

	for _, name := range []string{
		"",
		"random_file_name.jpg",
		"abc123def.jpg",
		"99999999999999.jpg",
		"IMG_1234.jpg",
	} {
		t.Run(name, func(t *testing.T) {
			_, _, ok := r.FromFilename(name)
			assert.False(t, ok)
		})
	}
}

func TestFromFilenameOutOfRangeFallsThrough(t *testing.T) {
	r := utcResolver()

	// 9999999999 seconds is past the forward bound, the compact date is not.
	got, strategy, ok := r.FromFilename("9999999999_20200304.jpg")
	require.True(t, ok)
	assert.Equal(t, StrategyCompact, strategy)
	assert.Equal(t, "2020-03-04 00:00:00", got.Format(time.DateTime))
}

func TestFromFilenameRejectsInvalidFields(t *testing.T) {
	r := utcResolver()

	_, _, ok := r.FromFilename("IMG_20231345_250000.jpg")
	assert.False(t, ok)
}

func TestFromFilenameIsDeterministic(t *testing.T) {
	r := utcResolver()
	done := make(chan time.Time, 8)
	for i := 0; i < 8; i++ {
		go func() {
			got, _, _ := r.FromFilename("IMG_20230101_123045.jpg")
			done <- got
		}()
	}
	first := <-done
	for i := 1; i < 8; i++ {
		assert.True(t, first.Equal(<-done))
	}
}

func TestParseExif(t *testing.T) {
	r := utcResolver()

	got, err := r.ParseExif("2023:01:01 12:30:45")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 1, 1, 12, 30, 45, 0, time.UTC), got)

	got, err = r.ParseExif("2023:01:01 12:30:45\x00")
	require.NoError(t, err)
	assert.Equal(t, 2023, got.Year())

	_, err = r.ParseExif("invalid_date_string")
	assert.Error(t, err)

	_, err = r.ParseExif("0000:00:00 00:00:00")
	assert.Error(t, err)

	_, err = r.ParseExif("1960:01:01 00:00:00")
	assert.Error(t, err)
}

func TestFromMetadata(t *testing.T) {
	r := utcResolver()

	t.Run("original wins", func(t *testing.T) {
		got, err := r.FromMetadata(Metadata{
			Original:  "2020:01:01 10:00:00",
			Digitized: "2021:01:01 10:00:00",
			Modified:  "2022:01:01 10:00:00",
		})
		require.NoError(t, err)
		assert.Equal(t, 2020, got.Year())
	})

	t.Run("digitized when original missing", func(t *testing.T) {
		got, err := r.FromMetadata(Metadata{
			Digitized: "2021:01:01 10:00:00",
			Modified:  "2022:01:01 10:00:00",
		})
		require.NoError(t, err)
		assert.Equal(t, 2021, got.Year())
	})

	t.Run("malformed original skipped", func(t *testing.T) {
		got, err := r.FromMetadata(Metadata{
			Original: "garbage",
			Modified: "2022:01:01 10:00:00",
		})
		require.NoError(t, err)
		assert.Equal(t, 2022, got.Year())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := r.FromMetadata(Metadata{})
		assert.ErrorIs(t, err, errmsg.ErrNoDate)
		assert.True(t, Metadata{}.Empty())
	})

	t.Run("all malformed", func(t *testing.T) {
		_, err := r.FromMetadata(Metadata{Original: "nope"})
		assert.ErrorIs(t, err, errmsg.ErrNoDate)
		assert.Contains(t, err.Error(), "DateTimeOriginal")
	})
}
