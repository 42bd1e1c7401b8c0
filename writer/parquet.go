package writer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

// FlowParquetRecord is the on-disk schema of one cleaned flow row.
type FlowParquetRecord struct {
	Asset      string  `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Maturity   int64   `parquet:"name=maturity, type=INT64"`
	Strike     float64 `parquet:"name=strike, type=DOUBLE"`
	OptionType string  `parquet:"name=option_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Direction  string  `parquet:"name=direction, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     float64 `parquet:"name=amount, type=DOUBLE"`
	Price      float64 `parquet:"name=price, type=DOUBLE"`
	Value      float64 `parquet:"name=value, type=DOUBLE"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64"`
}

// memoryFileWriter implements ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Write-only usage; report the current end of the buffer.
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// Exporter writes the cleaned flow rows next to the image artifact so a
// run's inputs can be inspected after the fact.
type Exporter struct {
	config *appconfig.Config
	log    *logger.Log
}

func NewExporter(cfg *appconfig.Config) *Exporter {
	return &Exporter{config: cfg, log: logger.GetLogger()}
}

// ExportParquet writes rows as a parquet file at path.
func (e *Exporter) ExportParquet(rows []models.FlowRecord, path string) error {
	log := e.log.WithComponent("parquet_exporter").WithFields(logger.Fields{
		"rows":      len(rows),
		"path":      path,
		"operation": "export_parquet",
	})

	data, err := e.flowParquetBytes(rows)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}

	log.WithFields(logger.Fields{"file_size": len(data)}).Info("flow rows exported")
	return nil
}

func (e *Exporter) flowParquetBytes(rows []models.FlowRecord) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := parquetwriter.NewParquetWriter(fw, new(FlowParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(e.config.Export.Parquet.Compression)

	for _, row := range rows {
		rec := FlowParquetRecord{
			Asset:      row.Asset,
			Maturity:   row.Maturity.UnixMilli(),
			Strike:     row.Strike,
			OptionType: string(row.Type),
			Direction:  row.Direction,
			Amount:     row.Amount,
			Price:      row.Price,
			Value:      row.Value,
			Timestamp:  row.Timestamp.UnixMilli(),
		}
		if err := pw.Write(rec); err != nil {
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return fw.Bytes(), nil
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "none", "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED
	default:
		return parquet.CompressionCodec_SNAPPY
	}
}
