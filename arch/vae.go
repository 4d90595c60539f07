// Copyright 2025 The Canopy Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package arch

import (
	"fmt"

	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/canopy-ml/canopy/layers"
)

// EmbeddingLayer describes one encoder stage of the VAE: kernel size,
// output channels and stride. The decoder mirrors the stages in reverse,
// replacing stride-2 convolutions with 2x-upsampled ones.
type EmbeddingLayer struct {
	Kernel   int
	Channels int
	Stride   int
}

// VAEConfig describes a ConvolutionalVAE.
type VAEConfig struct {
	// InputShape is (C, H, W). H and W must survive the encoder strides
	// exactly, so with the default two stride-2 stages they must be
	// divisible by 4.
	InputShape tensor.Shape

	// EmbeddingLayers are the encoder stages. Defaults to
	// [{3, 32, 2}, {3, 64, 2}].
	EmbeddingLayers []EmbeddingLayer

	// Latent is the length of the latent vector z. Defaults to 128.
	Latent int

	// FinalActivation bounds the decoder output: "tanh" or "sigm".
	// Defaults to "tanh".
	FinalActivation string

	// Activation of the intermediate stages. Defaults to "relu".
	Activation string

	// Normalization is "" or layers.NormBatch.
	Normalization string
}

func (cfg *VAEConfig) applyDefaults() {
	if len(cfg.EmbeddingLayers) == 0 {
		cfg.EmbeddingLayers = []EmbeddingLayer{{3, 32, 2}, {3, 64, 2}}
	}
	if cfg.Latent == 0 {
		cfg.Latent = 128
	}
	if cfg.FinalActivation == "" {
		cfg.FinalActivation = layers.ActivationTanh
	}
	if cfg.Activation == "" {
		cfg.Activation = layers.ActivationReLU
	}
}

// VAEOutput bundles the nodes of one VAE forward pass. KLD and MSE are
// scalar loss nodes; a training loop typically minimizes MSE + beta*KLD.
//
// All nodes except KLD and MSE are consumed by downstream operations, so
// a virtual machine may reuse their buffers mid-run. Their executed
// values are captured with gorgonia.Read and exposed through the Value
// accessors; read those, not Node.Value, after a run.
type VAEOutput struct {
	Encoded *gorgonia.Node // encoder output, (batch, C', H', W')
	Mu      *gorgonia.Node // latent mean, (batch, Latent)
	LogVar  *gorgonia.Node // latent log-variance, (batch, Latent)
	Latent  *gorgonia.Node // sampled z, (batch, Latent)
	Decoded *gorgonia.Node // reconstruction, (batch, C, H, W)
	KLD     *gorgonia.Node // KL divergence against the unit Gaussian
	MSE     *gorgonia.Node // reconstruction error against the clean input

	encodedVal gorgonia.Value
	muVal      gorgonia.Value
	logVarVal  gorgonia.Value
	latentVal  gorgonia.Value
	decodedVal gorgonia.Value
}

// EncodedValue returns the encoder output of the last machine run.
func (o *VAEOutput) EncodedValue() gorgonia.Value { return o.encodedVal }

// MuValue returns the latent mean of the last machine run.
func (o *VAEOutput) MuValue() gorgonia.Value { return o.muVal }

// LogVarValue returns the latent log-variance of the last machine run.
func (o *VAEOutput) LogVarValue() gorgonia.Value { return o.logVarVal }

// LatentValue returns the sampled latent of the last machine run.
func (o *VAEOutput) LatentValue() gorgonia.Value { return o.latentVal }

// DecodedValue returns the reconstruction of the last machine run.
func (o *VAEOutput) DecodedValue() gorgonia.Value { return o.decodedVal }

// ConvolutionalVAE is a convolutional variational autoencoder: a stack of
// strided convolutions into a Gaussian latent, and a mirrored
// upsample-convolution decoder. The latent is sampled with the
// reparameterization trick, so every Forward draws fresh noise.
type ConvolutionalVAE struct {
	cfg     VAEConfig
	name    string
	g       *gorgonia.ExprGraph
	encoder []*layers.Convolution
	mu      *layers.Linear
	logVar  *layers.Linear
	decode  *layers.Linear
	decoder []*layers.Convolution
	encoded tensor.Shape // (C', H', W')
	log     *zap.Logger
}

// NewConvolutionalVAE creates the model with parameters registered in g.
func NewConvolutionalVAE(g *gorgonia.ExprGraph, cfg VAEConfig, opts ...Option) (*ConvolutionalVAE, error) {
	if len(cfg.InputShape) != 3 {
		return nil, fmt.Errorf("arch: ConvolutionalVAE requires a (C, H, W) input shape, got %v", cfg.InputShape)
	}
	cfg.applyDefaults()
	if cfg.FinalActivation != layers.ActivationTanh && cfg.FinalActivation != layers.ActivationSigmoid {
		return nil, fmt.Errorf("arch: ConvolutionalVAE final activation must be tanh or sigm, got %q", cfg.FinalActivation)
	}

	o := newOptions("vae", opts...)
	v := &ConvolutionalVAE{cfg: cfg, name: o.name, g: g, log: o.logger}

	// Encoder.
	shape := cfg.InputShape
	for i, e := range cfg.EmbeddingLayers {
		c, err := layers.NewConvolution(g, layers.ConvConfig{
			InShape:       shape,
			Kernel:        e.Kernel,
			Channels:      e.Channels,
			Stride:        e.Stride,
			Pad:           true,
			Activation:    cfg.Activation,
			Normalization: cfg.Normalization,
		}, layers.WithName(fmt.Sprintf("%s/enc%d", o.name, i)), layers.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		v.encoder = append(v.encoder, c)
		shape = c.OutShape()
	}
	v.encoded = shape
	flat := shape.TotalSize()

	var err error
	if v.mu, err = layers.NewLinear(g, flat, cfg.Latent, layers.ActivationNone, 0,
		layers.WithName(o.name+"/mu"), layers.WithBias(false)); err != nil {
		return nil, err
	}
	if v.logVar, err = layers.NewLinear(g, flat, cfg.Latent, layers.ActivationNone, 0,
		layers.WithName(o.name+"/logvar"), layers.WithBias(false)); err != nil {
		return nil, err
	}

	// Decoder: linear back to the encoder volume, then the encoder stages
	// mirrored, stride-2 stages becoming upsampled stride-1 ones.
	if v.decode, err = layers.NewLinear(g, cfg.Latent, flat, cfg.Activation, 0,
		layers.WithName(o.name+"/decode"), layers.WithBias(false)); err != nil {
		return nil, err
	}
	for i := len(cfg.EmbeddingLayers) - 1; i >= 0; i-- {
		e := cfg.EmbeddingLayers[i]
		outC := cfg.InputShape[0]
		if i > 0 {
			outC = cfg.EmbeddingLayers[i-1].Channels
		}
		activation := cfg.Activation
		if i == 0 {
			activation = layers.ActivationNone // final activation applied separately
		}
		c, err := layers.NewConvolution(g, layers.ConvConfig{
			InShape:       shape,
			Kernel:        e.Kernel,
			Channels:      outC,
			Stride:        1,
			Pad:           true,
			Activation:    activation,
			Normalization: cfg.Normalization,
			Upsample:      e.Stride == 2,
		}, layers.WithName(fmt.Sprintf("%s/dec%d", o.name, len(cfg.EmbeddingLayers)-1-i)), layers.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		v.decoder = append(v.decoder, c)
		shape = c.OutShape()
	}
	if !shape.Eq(cfg.InputShape) {
		return nil, fmt.Errorf("arch: ConvolutionalVAE decoder reconstructs %v, want %v (spatial dims must halve cleanly)",
			shape, cfg.InputShape)
	}

	o.logger.Debug("convolutional vae",
		zap.String("name", o.name),
		zap.Ints("input", cfg.InputShape),
		zap.Ints("encoded", v.encoded),
		zap.Int("latent", cfg.Latent))
	return v, nil
}

// Forward encodes, samples and decodes a (batch, C, H, W) input.
// When noisy is non-nil it is encoded instead of x (denoising setup);
// the MSE is always taken against x.
func (v *ConvolutionalVAE) Forward(x, noisy *gorgonia.Node) (*VAEOutput, error) {
	if x.Dims() != 4 {
		return nil, fmt.Errorf("arch: ConvolutionalVAE expects a 4D input, got shape %v", x.Shape())
	}
	batch := x.Shape()[0]

	h := x
	if noisy != nil {
		h = noisy
	}
	var err error
	for _, c := range v.encoder {
		if h, err = c.Forward(h); err != nil {
			return nil, err
		}
	}
	encoded := h

	flat, err := gorgonia.Reshape(h, tensor.Shape{batch, v.encoded.TotalSize()})
	if err != nil {
		return nil, err
	}
	mu, err := v.mu.Forward(flat)
	if err != nil {
		return nil, err
	}
	logVar, err := v.logVar.Forward(flat)
	if err != nil {
		return nil, err
	}

	// z = mu + eps * exp(logVar / 2), eps ~ N(0, 1).
	half, err := gorgonia.Mul(logVar, gorgonia.NewConstant(float32(0.5)))
	if err != nil {
		return nil, err
	}
	std, err := gorgonia.Exp(half)
	if err != nil {
		return nil, err
	}
	eps := gorgonia.GaussianRandomNode(v.g, tensor.Float32, 0, 1, batch, v.cfg.Latent)
	scaled, err := gorgonia.HadamardProd(eps, std)
	if err != nil {
		return nil, err
	}
	latent, err := gorgonia.Add(mu, scaled)
	if err != nil {
		return nil, err
	}

	kld, err := v.kld(mu, logVar)
	if err != nil {
		return nil, err
	}

	d, err := v.decode.Forward(latent)
	if err != nil {
		return nil, err
	}
	if d, err = gorgonia.Reshape(d, tensor.Shape{batch, v.encoded[0], v.encoded[1], v.encoded[2]}); err != nil {
		return nil, err
	}
	for _, c := range v.decoder {
		if d, err = c.Forward(d); err != nil {
			return nil, err
		}
	}
	decoded, err := layers.Activation(v.cfg.FinalActivation, d)
	if err != nil {
		return nil, err
	}

	diff, err := gorgonia.Sub(decoded, x)
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(diff)
	if err != nil {
		return nil, err
	}
	mse, err := gorgonia.Mean(sq)
	if err != nil {
		return nil, err
	}

	out := &VAEOutput{
		Encoded: encoded,
		Mu:      mu,
		LogVar:  logVar,
		Latent:  latent,
		Decoded: decoded,
		KLD:     kld,
		MSE:     mse,
	}
	// These nodes feed the loss chain, so a tape machine may overwrite
	// their buffers before the run ends. Read clones each executed value.
	gorgonia.Read(encoded, &out.encodedVal)
	gorgonia.Read(mu, &out.muVal)
	gorgonia.Read(logVar, &out.logVarVal)
	gorgonia.Read(latent, &out.latentVal)
	gorgonia.Read(decoded, &out.decodedVal)
	return out, nil
}

// kld computes -0.5 * mean(1 + logVar - mu^2 - exp(logVar)).
func (v *ConvolutionalVAE) kld(mu, logVar *gorgonia.Node) (*gorgonia.Node, error) {
	one := gorgonia.NewConstant(float32(1))
	t, err := gorgonia.Add(one, logVar)
	if err != nil {
		return nil, err
	}
	muSq, err := gorgonia.Square(mu)
	if err != nil {
		return nil, err
	}
	if t, err = gorgonia.Sub(t, muSq); err != nil {
		return nil, err
	}
	vr, err := gorgonia.Exp(logVar)
	if err != nil {
		return nil, err
	}
	if t, err = gorgonia.Sub(t, vr); err != nil {
		return nil, err
	}
	m, err := gorgonia.Mean(t)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mul(m, gorgonia.NewConstant(float32(-0.5)))
}

// Learnables returns all trainable parameters of the model.
func (v *ConvolutionalVAE) Learnables() gorgonia.Nodes {
	var params gorgonia.Nodes
	for _, c := range v.encoder {
		params = append(params, c.Learnables()...)
	}
	params = append(params, v.mu.Learnables()...)
	params = append(params, v.logVar.Learnables()...)
	params = append(params, v.decode.Learnables()...)
	for _, c := range v.decoder {
		params = append(params, c.Learnables()...)
	}
	return params
}

// NamedLearnables returns the parameters keyed by node name.
func (v *ConvolutionalVAE) NamedLearnables() map[string]*gorgonia.Node {
	named := make(map[string]*gorgonia.Node)
	for _, n := range v.Learnables() {
		named[n.Name()] = n
	}
	return named
}

// Name returns the model name.
func (v *ConvolutionalVAE) Name() string { return v.name }

// EncodedShape returns the encoder output shape without the batch
// dimension: (C', H', W').
func (v *ConvolutionalVAE) EncodedShape() tensor.Shape { return v.encoded.Clone() }
